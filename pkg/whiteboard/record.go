package whiteboard

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/xid"
)

// Kind is the type tag of a record.
type Kind string

const (
	Rect    Kind = "rect"
	Ellipse Kind = "ellipse"
	Line    Kind = "line"
	Arrow   Kind = "arrow"
	Draw    Kind = "draw"
	Text    Kind = "text"
	Note    Kind = "note"
)

const idPrefix = "shape:"

var ErrInvalidRecord = errors.New("invalid record")

// NewRecordId makes a globally unique record id.
func NewRecordId() string { return idPrefix + xid.New().String() }

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) valid() bool { return finite(p.X) && finite(p.Y) }

// Style is shared by all shapes.
type Style struct {
	Color   string  `json:"color,omitempty"`
	Fill    string  `json:"fill,omitempty"`
	Size    float64 `json:"size,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
}

func (s Style) validate() error {
	if !finite(s.Size) || s.Size < 0 {
		return fmt.Errorf("bad stroke size %v", s.Size)
	}
	if !finite(s.Opacity) || s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("bad opacity %v", s.Opacity)
	}
	return nil
}

// Shape is the geometry and style of one record kind.
type Shape interface {
	Kind() Kind
	Validate() error
}

type Box struct {
	At       Point   `json:"at"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	Rotation float64 `json:"rotation,omitempty"`
	Style
}

func (b Box) validate() error {
	if !b.At.valid() || !finite(b.W) || !finite(b.H) || !finite(b.Rotation) {
		return errors.New("non-finite geometry")
	}
	if b.W < 0 || b.H < 0 {
		return fmt.Errorf("negative size %vx%v", b.W, b.H)
	}
	return b.Style.validate()
}

type RectShape struct{ Box }

func (RectShape) Kind() Kind        { return Rect }
func (s RectShape) Validate() error { return s.validate() }

type EllipseShape struct{ Box }

func (EllipseShape) Kind() Kind        { return Ellipse }
func (s EllipseShape) Validate() error { return s.validate() }

type Segment struct {
	From Point `json:"from"`
	To   Point `json:"to"`
	Style
}

func (s Segment) validate() error {
	if !s.From.valid() || !s.To.valid() {
		return errors.New("non-finite geometry")
	}
	return s.Style.validate()
}

type LineShape struct{ Segment }

func (LineShape) Kind() Kind        { return Line }
func (s LineShape) Validate() error { return s.validate() }

type ArrowShape struct {
	Segment
	Head string `json:"head,omitempty"`
}

func (ArrowShape) Kind() Kind        { return Arrow }
func (s ArrowShape) Validate() error { return s.validate() }

// DrawShape is a freehand stroke.
type DrawShape struct {
	Points []Point `json:"points"`
	Closed bool    `json:"closed,omitempty"`
	Style
}

func (DrawShape) Kind() Kind { return Draw }

func (s DrawShape) Validate() error {
	if len(s.Points) == 0 {
		return errors.New("empty stroke")
	}
	for _, p := range s.Points {
		if !p.valid() {
			return errors.New("non-finite geometry")
		}
	}
	return s.Style.validate()
}

type TextShape struct {
	At   Point   `json:"at"`
	Text string  `json:"text"`
	W    float64 `json:"w,omitempty"`
	Style
}

func (TextShape) Kind() Kind { return Text }

func (s TextShape) Validate() error {
	if !s.At.valid() || !finite(s.W) || s.W < 0 {
		return errors.New("bad geometry")
	}
	return s.Style.validate()
}

type NoteShape struct {
	Box
	Text string `json:"text"`
}

func (NoteShape) Kind() Kind        { return Note }
func (s NoteShape) Validate() error { return s.validate() }

func newShape(k Kind) (Shape, bool) {
	switch k {
	case Rect:
		return &RectShape{}, true
	case Ellipse:
		return &EllipseShape{}, true
	case Line:
		return &LineShape{}, true
	case Arrow:
		return &ArrowShape{}, true
	case Draw:
		return &DrawShape{}, true
	case Text:
		return &TextShape{}, true
	case Note:
		return &NoteShape{}, true
	}
	return nil, false
}

// Record is a single drawing element. On the wire it is encoded as
// {"id":..., "type":..., "props":{...}} where props depend on the type.
type Record struct {
	Id    string
	Shape Shape
}

func NewRecord(id string, s Shape) Record { return Record{Id: id, Shape: s} }

func (r Record) Kind() Kind {
	if r.Shape == nil {
		return ""
	}
	return r.Shape.Kind()
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.Id) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if r.Shape == nil {
		return fmt.Errorf("%w: %v has no shape", ErrInvalidRecord, r.Id)
	}
	if err := r.Shape.Validate(); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrInvalidRecord, r.Id, err)
	}
	return nil
}

// Equal compares records by their encoded form.
func (r Record) Equal(o Record) bool {
	if r.Id != o.Id || r.Kind() != o.Kind() {
		return false
	}
	a, err1 := json.Marshal(r.Shape)
	b, err2 := json.Marshal(o.Shape)
	return err1 == nil && err2 == nil && string(a) == string(b)
}

type wireRecord struct {
	Id    string          `json:"id"`
	Type  Kind            `json:"type"`
	Props json.RawMessage `json:"props"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.Shape == nil {
		return nil, fmt.Errorf("%w: %v has no shape", ErrInvalidRecord, r.Id)
	}
	props, err := json.Marshal(r.Shape)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRecord{Id: r.Id, Type: r.Shape.Kind(), Props: props})
}

// UnmarshalJSON decodes and validates a record, so a malformed record
// never makes it into a store.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	shape, ok := newShape(w.Type)
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, w.Type)
	}
	if len(w.Props) > 0 {
		if err := json.Unmarshal(w.Props, shape); err != nil {
			return fmt.Errorf("%w: %v props: %v", ErrInvalidRecord, w.Type, err)
		}
	}
	rec := Record{Id: w.Id, Shape: deref(shape)}
	if err := rec.Validate(); err != nil {
		return err
	}
	*r = rec
	return nil
}

// Clone returns a record that shares no memory with r. The store keeps
// clones, so edits of a record outside of it never reach the document.
func (r Record) Clone() Record {
	r.Shape = deref(r.Shape)
	if d, ok := r.Shape.(DrawShape); ok {
		d.Points = append([]Point(nil), d.Points...)
		r.Shape = d
	}
	return r
}

// deref stores shapes by value.
func deref(s Shape) Shape {
	switch v := s.(type) {
	case *RectShape:
		return *v
	case *EllipseShape:
		return *v
	case *LineShape:
		return *v
	case *ArrowShape:
		return *v
	case *DrawShape:
		return *v
	case *TextShape:
		return *v
	case *NoteShape:
		return *v
	}
	return s
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
