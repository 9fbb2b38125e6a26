package tag

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
)

// jsonTag is the side-file form of a tag. Ids are kept as decimal strings
// because 64-bit integers do not survive JSON number parsing in most readers.
type jsonTag struct {
	ID      string   `json:"id"`
	X       int      `json:"x"`
	Y       int      `json:"y"`
	Type    string   `json:"type"`
	Ellipse *Ellipse `json:"ellipse,omitempty"`
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Tag) MarshalJSON() ([]byte, error) {
	c := t.Center()
	return json.Marshal(jsonTag{
		ID:      strconv.FormatUint(t.ID, 10),
		X:       c.X,
		Y:       c.Y,
		Type:    t.Type.String(),
		Ellipse: t.Ellipse,
	})
}

func (t *Tag) UnmarshalJSON(data []byte) error {
	var j jsonTag
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	typ, err := ParseType(j.Type)
	if err != nil {
		return err
	}
	id := NewID()
	if j.ID != "" {
		id, err = strconv.ParseUint(j.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tag id %q: %w", j.ID, err)
		}
	}
	*t = Tag{
		ID:      id,
		Box:     BoxForCenter(image.Pt(j.X, j.Y)),
		Ellipse: j.Ellipse,
		Type:    typ,
	}
	return nil
}
