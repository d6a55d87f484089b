package cenc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/abema/go-mp4"
)

// Box is a node of a box tree such as a sample entry and its children.
// Payload holds the decoded box for types go-mp4 knows; other types keep
// their payload bytes in Raw.
//
// Trees handed to this package are treated as immutable. Rewrites build new
// nodes and share unchanged children with the source.
type Box struct {
	Type     mp4.BoxType
	Payload  mp4.IBox
	Raw      []byte
	Context  mp4.Context
	Children []*Box
}

func NewBox(payload mp4.IBox, children ...*Box) *Box {
	return &Box{Type: payload.GetType(), Payload: payload, Children: children}
}

// Child returns the first direct child of the given type.
func (b *Box) Child(t mp4.BoxType) *Box {
	for _, c := range b.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// Find follows path through first matching children, starting below b.
func (b *Box) Find(path ...mp4.BoxType) *Box {
	node := b
	for _, t := range path {
		if node = node.Child(t); node == nil {
			return nil
		}
	}
	return node
}

// Walk visits b and its descendants depth first until fn returns false.
func (b *Box) Walk(fn func(*Box) bool) bool {
	if !fn(b) {
		return false
	}
	for _, c := range b.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// NALLengthSize returns the length prefix width from an avcC child, or 0.
func (b *Box) NALLengthSize() int {
	avcC := b.Child(mp4.BoxTypeAvcC())
	if avcC == nil {
		return 0
	}
	conf, ok := avcC.Payload.(*mp4.AVCDecoderConfiguration)
	if !ok {
		return 0
	}
	return int(conf.LengthSizeMinusOne) + 1
}

// Marshal serializes the tree, box headers included.
func (b *Box) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.marshal(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Box) marshal(w *bytes.Buffer) error {
	var body bytes.Buffer
	if b.Payload != nil {
		if _, err := mp4.Marshal(&body, b.Payload, b.Context); err != nil {
			return fmt.Errorf("failed to marshal %s: %w", b.Type, err)
		}
	} else {
		body.Write(b.Raw)
	}
	for _, c := range b.Children {
		if err := c.marshal(&body); err != nil {
			return err
		}
	}

	size := uint64(body.Len()) + 8
	if size > math.MaxUint32 {
		return fmt.Errorf("box %s too large: %d bytes", b.Type, size)
	}
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(size))
	copy(header[4:8], b.Type[:])
	w.Write(header[:])
	w.Write(body.Bytes())
	return nil
}

// ParseBox decodes a single serialized box tree.
func ParseBox(data []byte) (*Box, error) {
	vals, err := mp4.ReadBoxStructure(bytes.NewReader(data), ReadBoxTree)
	if err != nil {
		return nil, fmt.Errorf("failed to read box structure: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("expected one top level box, got %d", len(vals))
	}
	box, ok := vals[0].(*Box)
	if !ok {
		return nil, errors.New("unexpected box structure value")
	}
	return box, nil
}

// ReadBoxTree is a go-mp4 read handler that turns the visited box and its
// descendants into a *Box.
func ReadBoxTree(h *mp4.ReadHandle) (interface{}, error) {
	box := &Box{Type: h.BoxInfo.Type, Context: h.BoxInfo.Context}

	if !h.BoxInfo.IsSupportedType() {
		var raw bytes.Buffer
		if _, err := h.ReadData(&raw); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", h.BoxInfo.Type, err)
		}
		box.Raw = raw.Bytes()
		return box, nil
	}

	payload, _, err := h.ReadPayload()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s payload: %w", h.BoxInfo.Type, err)
	}
	box.Payload = payload

	vals, err := h.Expand()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		if child, ok := v.(*Box); ok {
			box.Children = append(box.Children, child)
		}
	}
	return box, nil
}
