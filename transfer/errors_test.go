package transfer

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection reset")

	cases := []struct {
		err  error
		kind Kind
	}{
		{NewValidation("decode", cause), KindValidation},
		{NewCrypto("unwrap", cause), KindCrypto},
		{NewTransport("send", cause), KindTransport},
		{NewTimeout("receive", cause), KindTimeout},
		{NewCancelled("send", cause), KindCancelled},
	}

	for _, tc := range cases {
		kind, ok := KindOf(tc.err)
		if !ok || kind != tc.kind {
			t.Errorf("KindOf(%v) = %v, %v; want %v, true", tc.err, kind, ok, tc.kind)
		}
		if !IsKind(tc.err, tc.kind) {
			t.Errorf("IsKind(%v, %v) = false", tc.err, tc.kind)
		}
		if !errors.Is(tc.err, cause) {
			t.Errorf("error %v does not unwrap to its cause", tc.err)
		}
	}
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	inner := NewTransport("send", errors.New("broken pipe"))
	outer := fmt.Errorf("chunk 7: %w", inner)

	if !IsKind(outer, KindTransport) {
		t.Error("wrapped transport error lost its kind")
	}
	if IsKind(outer, KindCrypto) {
		t.Error("wrapped error matched the wrong kind")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("bare")); ok {
		t.Error("KindOf matched an unclassified error")
	}
}

func TestWireMetaRoundTrip(t *testing.T) {
	in := Meta{
		TransferID:  "t-1",
		Name:        "report.pdf",
		ContentType: "application/pdf",
		Size:        4096,
		ChunkSize:   1024,
		Encrypted:   true,
		WrappedKey:  []byte{9, 9, 9},
	}

	encoded, err := EncodeMeta(in)
	if err != nil {
		t.Fatalf("EncodeMeta failed: %v", err)
	}

	out, err := DecodeMeta(encoded)
	if err != nil {
		t.Fatalf("DecodeMeta failed: %v", err)
	}
	if out.TransferID != in.TransferID || out.Name != in.Name || out.Size != in.Size {
		t.Errorf("round trip mismatch: got %+v", out)
	}
	if !out.Encrypted || len(out.WrappedKey) != 3 {
		t.Errorf("key fields lost in round trip: %+v", out)
	}
}

func TestWireMetaValidation(t *testing.T) {
	cases := []struct {
		name string
		meta Meta
	}{
		{"missing id", Meta{Name: "f", Size: 1}},
		{"missing name", Meta{TransferID: "t", Size: 1}},
		{"encrypted without key", Meta{TransferID: "t", Name: "f", Encrypted: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.meta.Validate(); !errors.Is(err, ErrBadMeta) {
				t.Errorf("Validate() = %v, want ErrBadMeta", err)
			}
		})
	}

	if _, err := DecodeMeta([]byte("{not json")); !errors.Is(err, ErrBadMeta) {
		t.Errorf("DecodeMeta(garbage) = %v, want ErrBadMeta", err)
	}
}
