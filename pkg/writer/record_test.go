package writer

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/menta2k/tag-trainset/pkg/trainset"
)

func TestRecordRoundTrip(t *testing.T) {
	d := createBatch("frame", 1, 64)[0]
	d.Taginess = 0.123456789

	r := RecordFromDatum(d, trainset.LabelTaginess)
	got, err := DecodeRecord(EncodeRecord(r))
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if math.Float32bits(got.Label) != math.Float32bits(float32(d.Taginess)) {
		t.Errorf("Label not bit-exact: %v vs %v", got.Label, float32(d.Taginess))
	}
	if got.Channels != 1 || got.Height != 64 || got.Width != 64 {
		t.Errorf("Unexpected shape %dx%dx%d", got.Channels, got.Height, got.Width)
	}
	if got.Class != 1 {
		t.Errorf("Expected class 1 for tag sample, got %d", got.Class)
	}
	if got.Description != d.Description {
		t.Errorf("Expected description %q, got %q", d.Description, got.Description)
	}
	if string(got.Data) != string(d.Patch.Pix) {
		t.Error("Pixel data differs")
	}
}

func TestRecordSkipsUnknownFields(t *testing.T) {
	r := Record{Channels: 1, Height: 1, Width: 2, Data: []byte{3, 4}, Label: 0.5}
	b := EncodeRecord(r)
	b = protowire.AppendTag(b, 6, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 42)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	got, err := DecodeRecord(b)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if got.Label != 0.5 || string(got.Data) != string([]byte{3, 4}) {
		t.Errorf("Unexpected record %+v", got)
	}
}

func TestDecodeRecordMalformed(t *testing.T) {
	if _, err := DecodeRecord([]byte{0xff}); err == nil {
		t.Error("Expected error for truncated tag")
	}

	r := Record{Channels: 1, Height: 2, Width: 2, Data: []byte{1}}
	if _, err := DecodeRecord(EncodeRecord(r)); err == nil {
		t.Error("Expected error for data/shape mismatch")
	}
}
