package codec

import (
	"errors"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

const (
	nalSliceNonIDR h264reader.NalUnitType = 1
	nalSliceDPA    h264reader.NalUnitType = 2
	nalSliceIDR    h264reader.NalUnitType = 5
	nalSEI         h264reader.NalUnitType = 6
	nalSPS         h264reader.NalUnitType = 7
	nalPPS         h264reader.NalUnitType = 8
	nalAUD         h264reader.NalUnitType = 9
)

// StartCode prefixes every NAL unit written by this package.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnitReader groups the NAL units of an Annex-B byte stream into access
// units. A unit is only complete once the first NAL of the next one has been
// seen, so a live stream is emitted one picture behind the encoder.
type AccessUnitReader struct {
	nals    *h264reader.H264Reader
	pending *h264reader.NAL
	eof     bool
}

// NewAccessUnitReader reads Annex-B data from r.
func NewAccessUnitReader(r io.Reader) (*AccessUnitReader, error) {
	nals, err := h264reader.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &AccessUnitReader{nals: nals}, nil
}

// Next returns the next access unit, or io.EOF once the stream is exhausted.
// Timestamp is left for the caller to fill in.
func (r *AccessUnitReader) Next() (AccessUnit, error) {
	var au AccessUnit
	hasSlice := false

	for {
		nal, err := r.nextNAL()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return AccessUnit{}, err
		}

		if len(au.Data) > 0 && startsAccessUnit(nal, hasSlice) {
			r.pending = nal
			break
		}

		au.Data = append(au.Data, StartCode...)
		au.Data = append(au.Data, nal.Data...)
		if isSlice(nal.UnitType) {
			hasSlice = true
		}
		if nal.UnitType == nalSliceIDR {
			au.KeyFrame = true
		}
	}

	if len(au.Data) == 0 {
		return AccessUnit{}, io.EOF
	}
	return au, nil
}

func (r *AccessUnitReader) nextNAL() (*h264reader.NAL, error) {
	if r.pending != nil {
		nal := r.pending
		r.pending = nil
		return nal, nil
	}
	for !r.eof {
		nal, err := r.nals.NextNAL()
		if errors.Is(err, io.EOF) {
			r.eof = true
			break
		}
		if err != nil {
			return nil, err
		}
		if nal == nil || len(nal.Data) == 0 {
			continue
		}
		return nal, nil
	}
	return nil, io.EOF
}

func isSlice(t h264reader.NalUnitType) bool {
	return t >= nalSliceNonIDR && t <= nalSliceIDR
}

// startsAccessUnit reports whether nal opens a new access unit given that the
// unit being built already holds a slice or not (H.264 7.4.1.2.3, simplified
// to the streams a single-slice encoder produces).
func startsAccessUnit(nal *h264reader.NAL, hasSlice bool) bool {
	switch t := nal.UnitType; {
	case t == nalAUD:
		return true
	case !hasSlice:
		return false
	case t == nalSPS || t == nalPPS || t == nalSEI:
		return true
	case t == nalSliceNonIDR || t == nalSliceIDR || t == nalSliceDPA:
		// first_mb_in_slice is ue(v); a leading 1 bit encodes 0.
		return len(nal.Data) > 1 && nal.Data[1]&0x80 != 0
	}
	return false
}
