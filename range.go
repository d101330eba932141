// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package netway

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// IndexFirst is the index of the first byte of an entity.
	IndexFirst int64 = 0
	// IndexLast makes a Range count Size bytes back from the end of the entity.
	IndexLast int64 = -1
	// SizeMax makes a Range extend to the end of the entity.
	SizeMax int64 = -1
	// UnknownSize is the size of an entity whose length is not known in advance.
	UnknownSize int64 = -1
)

// Range selects a byte span of an entity.
type Range struct {
	// Index is the first byte, or IndexLast.
	Index int64
	// Size is the number of bytes, or SizeMax.
	Size int64
}

// NewRange returns a Range of size bytes starting at index.
func NewRange(index, size int64) Range {
	return Range{Index: index, Size: size}
}

// Offset returns the index of the first byte of the range in an entity of total bytes.
// It returns -1 when the offset depends on an unknown total.
func (r Range) Offset(total int64) int64 {
	if r.Index != IndexLast {
		return r.Index
	}
	if total < 0 {
		return -1
	}
	if r.Size == SizeMax || r.Size >= total {
		return 0
	}
	return total - r.Size
}

// Length returns the number of bytes the range selects in an entity of total bytes,
// UnknownSize when it cannot be told.
func (r Range) Length(total int64) int64 {
	if total < 0 {
		if r.Size == SizeMax {
			return UnknownSize
		}
		return r.Size
	}
	if r.Index == IndexLast {
		if r.Size == SizeMax || r.Size > total {
			return total
		}
		return r.Size
	}
	if r.Index >= total {
		return 0
	}
	left := total - r.Index
	if r.Size == SizeMax || r.Size > left {
		return left
	}
	return r.Size
}

// Satisfiable reports whether at least one byte of an entity of total bytes is selected.
func (r Range) Satisfiable(total int64) bool {
	if r.Size == 0 {
		return false
	}
	if total < 0 {
		return true
	}
	return r.Length(total) > 0
}

// ContentRange formats the Content-Range value of the range over total bytes.
func (r Range) ContentRange(total int64) string {
	length := r.Length(total)
	t := "*"
	if total >= 0 {
		t = strconv.FormatInt(total, 10)
	}
	if length <= 0 || total < 0 && r.Index == IndexLast {
		return "bytes */" + t
	}
	first := r.Offset(total)
	return "bytes " + strconv.FormatInt(first, 10) + "-" + strconv.FormatInt(first+length-1, 10) + "/" + t
}

func (r Range) String() string {
	switch {
	case r.Index == IndexLast:
		return "-" + strconv.FormatInt(r.Size, 10)
	case r.Size == SizeMax:
		return strconv.FormatInt(r.Index, 10) + "-"
	}
	return strconv.FormatInt(r.Index, 10) + "-" + strconv.FormatInt(r.Index+r.Size-1, 10)
}

// AvailableSize returns the number of bytes of an entity of size total
// that are actually transferred when rng is applied, rng may be nil.
func AvailableSize(total int64, rng *Range) int64 {
	if rng == nil {
		return total
	}
	if total < 0 && (rng.Size == SizeMax || rng.Index == IndexLast) {
		return UnknownSize
	}
	return rng.Length(total)
}

// ParseRanges parses a Range header value such as "bytes=0-9,-5,20-".
func ParseRanges(value string) ([]Range, error) {
	unit, set, ok := strings.Cut(strings.TrimSpace(value), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return nil, Exception(ErrMalformedMessage, fmt.Sprintf("unsupported range %q", value))
	}
	var ranges []Range
	for _, spec := range strings.Split(set, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		first, last, ok := strings.Cut(spec, "-")
		if !ok {
			return nil, Exception(ErrMalformedMessage, fmt.Sprintf("invalid byte range %q", spec))
		}
		first, last = strings.TrimSpace(first), strings.TrimSpace(last)
		switch {
		case first == "":
			n, err := parseRangeInt(last)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, Range{Index: IndexLast, Size: n})
		case last == "":
			i, err := parseRangeInt(first)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, Range{Index: i, Size: SizeMax})
		default:
			i, err := parseRangeInt(first)
			if err != nil {
				return nil, err
			}
			j, err := parseRangeInt(last)
			if err != nil {
				return nil, err
			}
			if j < i {
				return nil, Exception(ErrMalformedMessage, fmt.Sprintf("invalid byte range %q", spec))
			}
			ranges = append(ranges, Range{Index: i, Size: j - i + 1})
		}
	}
	if len(ranges) == 0 {
		return nil, Exception(ErrMalformedMessage, fmt.Sprintf("empty range %q", value))
	}
	return ranges, nil
}

// FormatRanges formats ranges as a Range header value.
func FormatRanges(ranges []Range) string {
	var sb strings.Builder
	sb.WriteString("bytes=")
	for i, r := range ranges {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(r.String())
	}
	return sb.String()
}

func parseRangeInt(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, Exception(ErrMalformedMessage, fmt.Sprintf("invalid range position %q", s))
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, Exception(ErrMalformedMessage, fmt.Sprintf("invalid range position %q", s))
	}
	return n, nil
}
