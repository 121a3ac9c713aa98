package near

import (
	"bytes"
	"context"
	"testing"

	"github.com/hitoshi/nearverify/internal/model"
)

func TestVerificationContract_GetVerification(t *testing.T) {
	record := model.VerifiedAccountRecord{
		NearAccountID: "alice.near",
		Nullifier:     "123",
		UserID:        "user-1",
		AttestationID: "1",
		VerifiedAt:    1700000000000000000,
		SelfProof: model.SelfProof{
			Proof: model.ZKProof{
				A: [2]string{"1", "2"},
				B: [2][2]string{{"3", "4"}, {"5", "6"}},
				C: [2]string{"7", "8"},
			},
			PublicSignals: []string{"9", "10"},
		},
		UserContextData: "{}",
	}

	server := newRPCServer(t, func(req decodedRequest) any {
		if req.Params["method_name"] != "get_account_with_proof" {
			t.Errorf("method_name = %v, want get_account_with_proof", req.Params["method_name"])
		}
		return callResult(t, record)
	})

	var buf bytes.Buffer
	contract := NewVerificationContract(NewClient(server.URL, server.Client(), newTestLogger(&buf)), "verify.near")

	got, err := contract.GetVerification(context.Background(), "alice.near")
	if err != nil {
		t.Fatalf("GetVerification がエラーを返した: %v", err)
	}
	if got == nil {
		t.Fatal("GetVerification が nil を返した")
	}
	if got.AttestationID != "1" || got.SelfProof.Proof.B[1][0] != "5" || len(got.SelfProof.PublicSignals) != 2 {
		t.Errorf("レコードが一致しない: %+v", got)
	}
}

func TestVerificationContract_GetVerification_NullIsNil(t *testing.T) {
	server := newRPCServer(t, func(req decodedRequest) any {
		return callResult(t, nil)
	})

	var buf bytes.Buffer
	contract := NewVerificationContract(NewClient(server.URL, server.Client(), newTestLogger(&buf)), "verify.near")

	got, err := contract.GetVerification(context.Background(), "ghost.near")
	if err != nil {
		t.Fatalf("GetVerification がエラーを返した: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestVerificationContract_GetVerifiedAccounts(t *testing.T) {
	server := newRPCServer(t, func(req decodedRequest) any {
		switch req.Params["method_name"] {
		case "get_verified_accounts":
			args := req.args(t)
			if args["from_index"] != float64(20) || args["limit"] != float64(10) {
				t.Errorf("args = %v, want from_index=20 limit=10", args)
			}
			return callResult(t, []model.VerifiedAccountRecord{
				{NearAccountID: "a.near"},
				{NearAccountID: "b.near"},
			})
		case "get_verified_count":
			return callResult(t, 22)
		}
		t.Errorf("unexpected method_name %v", req.Params["method_name"])
		return nil
	})

	var buf bytes.Buffer
	contract := NewVerificationContract(NewClient(server.URL, server.Client(), newTestLogger(&buf)), "verify.near")

	accounts, total, err := contract.GetVerifiedAccounts(context.Background(), 20, 10)
	if err != nil {
		t.Fatalf("GetVerifiedAccounts がエラーを返した: %v", err)
	}
	if total != 22 {
		t.Errorf("total = %d, want 22", total)
	}
	if len(accounts) != 2 || accounts[0].NearAccountID != "a.near" {
		t.Errorf("accounts = %+v", accounts)
	}
}
