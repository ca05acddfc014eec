package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Step names one ledger operation within a deposit attempt.
type Step string

const (
	StepTransferA Step = "transfer_a"
	StepTransferB Step = "transfer_b"
	StepMint      Step = "mint"
	StepRefundA   Step = "refund_a"
	StepRefundB   Step = "refund_b"
	StepBurn      Step = "burn"
)

// ComputeOperationID computes a deterministic ledger operation id using SHA256.
// Formula: SHA256(deposit_id|attempt|step)
// Returns hex-encoded hash (64 characters).
//
// Replaying a step with the same id is a no-op at the ledger, so transport
// retries never move funds twice.
func ComputeOperationID(depositID string, attempt int, step Step) string {
	data := fmt.Sprintf("%s|%d|%s", depositID, attempt, string(step))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
