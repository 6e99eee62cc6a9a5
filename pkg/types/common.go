package types

import (
	"github.com/oklog/ulid/v2"
)

// ID Generation Helpers
//
// ulid.Make() uses current time plus entropy from crypto/rand.Reader,
// so generated IDs sort by creation time.

func GenerateID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

func GeneratePatchID() string   { return GenerateID("pch") }
func GenerateConfirmID() string { return GenerateID("cfm") }
func GenerateAuditID() string   { return GenerateID("aud") }
