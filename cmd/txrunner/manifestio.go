package main

import (
	"encoding/json"
	"os"

	"vaultkernel/core"
	"vaultkernel/pkg/utils"
)

// manifestFile is the on-disk shape of a transaction manifest: the ordered
// instruction list the transaction processor executes in sequence.
type manifestFile struct {
	Instructions []core.Instruction `json:"instructions"`
}

// proofsFile is the on-disk shape of the proofs presented to the root
// frame's auth zone before the manifest runs.
type proofsFile struct {
	Proofs []core.ProofState `json:"proofs"`
}

// signaturesFile is the on-disk shape of the signatures presented alongside
// a transaction, verified against the manifest's hash to derive virtual
// signer badges.
type signaturesFile struct {
	Signatures []core.TransactionSignature `json:"signatures"`
}

func loadManifest(path string) (manifestFile, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifestFile{}, nil, utils.Wrap(err, "read manifest file")
	}
	var mf manifestFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return manifestFile{}, nil, utils.Wrap(err, "decode manifest file")
	}
	return mf, raw, nil
}

func loadProofs(path string) ([]core.ProofState, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read proofs file")
	}
	var pf proofsFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return nil, utils.Wrap(err, "decode proofs file")
	}
	return pf.Proofs, nil
}

func loadSignatures(path string) ([]core.TransactionSignature, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read signatures file")
	}
	var sf signaturesFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, utils.Wrap(err, "decode signatures file")
	}
	return sf.Signatures, nil
}

// receiptView is the JSON-friendly projection of a Receipt: the Error field
// of core.Receipt is an interface and does not round-trip through
// encoding/json on its own.
type receiptView struct {
	Status      bool            `json:"status"`
	Error       string          `json:"error,omitempty"`
	ReturnData  []json.RawMessage `json:"return_data,omitempty"`
	Logs        []core.LogEntry `json:"logs,omitempty"`
	Events      []core.Event    `json:"events,omitempty"`
	FeePaid     uint64          `json:"fee_paid"`
	FeeRefunded uint64          `json:"fee_refunded"`
}

func toReceiptView(r *core.Receipt) receiptView {
	v := receiptView{
		Status:      r.Status,
		Logs:        r.Logs,
		Events:      r.Events,
		FeePaid:     r.FeePaid,
		FeeRefunded: r.FeeRefunded,
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	for _, rd := range r.ReturnData {
		if len(rd) == 0 {
			v.ReturnData = append(v.ReturnData, json.RawMessage("null"))
			continue
		}
		v.ReturnData = append(v.ReturnData, json.RawMessage(rd))
	}
	return v
}
