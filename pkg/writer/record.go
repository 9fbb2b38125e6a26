package writer

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/menta2k/tag-trainset/pkg/tag"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

// Record field numbers. Fields 1-5 follow the Caffe Datum message so records
// can be read by Caffe data layers; 8 and 9 carry the continuous label and
// the sample description.
const (
	fieldChannels    protowire.Number = 1
	fieldHeight      protowire.Number = 2
	fieldWidth       protowire.Number = 3
	fieldData        protowire.Number = 4
	fieldClass       protowire.Number = 5
	fieldLabel       protowire.Number = 8
	fieldDescription protowire.Number = 9
)

var errMalformedRecord = errors.New("malformed record")

// Record is the serialized form of one sample in the KV store.
type Record struct {
	Channels    int32
	Height      int32
	Width       int32
	Data        []byte
	Class       int32
	Label       float32
	Description string
}

// RecordFromDatum packs a sample. Class is 1 for tag samples; Label is the
// label selected by mode.
func RecordFromDatum(d trainset.TrainDatum, mode trainset.LabelMode) Record {
	p := d.Patch
	w, h := p.Rect.Dx(), p.Rect.Dy()
	data := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		data = append(data, p.Pix[y*p.Stride:y*p.Stride+w]...)
	}
	var class int32
	if d.Type == tag.IsTag {
		class = 1
	}
	return Record{
		Channels:    1,
		Height:      int32(h),
		Width:       int32(w),
		Data:        data,
		Class:       class,
		Label:       d.Label(mode),
		Description: d.Description,
	}
}

// EncodeRecord serializes r in protobuf wire format.
func EncodeRecord(r Record) []byte {
	b := make([]byte, 0, len(r.Data)+len(r.Description)+32)
	b = protowire.AppendTag(b, fieldChannels, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Channels))
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Height))
	b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Width))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Data)
	b = protowire.AppendTag(b, fieldClass, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Class))
	b = protowire.AppendTag(b, fieldLabel, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(r.Label))
	if r.Description != "" {
		b = protowire.AppendTag(b, fieldDescription, protowire.BytesType)
		b = protowire.AppendString(b, r.Description)
	}
	return b
}

// DecodeRecord parses a record written by EncodeRecord. Unknown fields are
// skipped.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldChannels || num == fieldHeight || num == fieldWidth || num == fieldClass):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", errMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldChannels:
				r.Channels = int32(v)
			case fieldHeight:
				r.Height = int32(v)
			case fieldWidth:
				r.Width = int32(v)
			case fieldClass:
				r.Class = int32(v)
			}
		case typ == protowire.BytesType && (num == fieldData || num == fieldDescription):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", errMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldData {
				r.Data = append([]byte(nil), v...)
			} else {
				r.Description = string(v)
			}
		case typ == protowire.Fixed32Type && num == fieldLabel:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", errMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			r.Label = math.Float32frombits(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", errMalformedRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if int(r.Channels*r.Height*r.Width) != len(r.Data) {
		return Record{}, fmt.Errorf("%w: %d bytes for %dx%dx%d", errMalformedRecord, len(r.Data), r.Channels, r.Height, r.Width)
	}
	return r, nil
}
