package option

import (
	"errors"
	"fmt"
	"iter"
)

// Type is an ND option type.
type Type uint8

const (
	TypeSLLAO      Type = 1
	TypeTLLAO      Type = 2
	TypePrefixInfo Type = 3
	TypeRedirected Type = 4
	TypeMTU        Type = 5
	TypeRDNSS      Type = 25
	TypeARO        Type = 33
)

func (m Type) String() string {
	switch m {
	case TypeSLLAO:
		return "SLLAO"
	case TypeTLLAO:
		return "TLLAO"
	case TypePrefixInfo:
		return "PIO"
	case TypeRedirected:
		return "REDIRECTED"
	case TypeMTU:
		return "MTU"
	case TypeRDNSS:
		return "RDNSS"
	case TypeARO:
		return "ARO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
	}
}

// Unit is the option length granularity in bytes.
const Unit = 8

// MaxOptions bounds the number of options accepted in a single message.
const MaxOptions = 64

var (
	// ErrZeroLength is returned for an option with a zero length field.
	ErrZeroLength = errors.New("option with zero length")
	// ErrTruncated is returned when an option runs past the message end.
	ErrTruncated = errors.New("option exceeds message boundary")
	// ErrTooMany is returned when a message carries more than MaxOptions
	// options.
	ErrTooMany = errors.New("too many options")
	// ErrBadLength is returned by decoders when an option has a length
	// that is invalid for its type.
	ErrBadLength = errors.New("invalid option length")
)

// Option is a single option located in a message option region.
type Option struct {
	// Type is the option type.
	Type Type
	// Len is the option length in units of 8 bytes, header included.
	Len uint8
	// Offset is the offset of the option header within the option region.
	Offset int
	// Data is the whole option, header included.
	Data []byte
}

// Payload returns the option bytes after the 2-byte header.
func (m Option) Payload() []byte {
	return m.Data[2:]
}

// Walk returns a sequence over the options in buf.
//
// The sequence stops at the end of buf or at the first malformed option, in
// which case the last yielded element carries a non-nil error and a zero
// Option. Every call to the returned function walks buf from the start.
func Walk(buf []byte) iter.Seq2[Option, error] {
	return func(yield func(Option, error) bool) {
		offset := 0
		count := 0
		for offset < len(buf) {
			if count == MaxOptions {
				yield(Option{}, ErrTooMany)
				return
			}
			if len(buf)-offset < 2 {
				yield(Option{}, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, len(buf)-offset, offset))
				return
			}

			length := buf[offset+1]
			if length == 0 {
				yield(Option{}, fmt.Errorf("%w: type %d at offset %d", ErrZeroLength, buf[offset], offset))
				return
			}
			end := offset + int(length)*Unit
			if end > len(buf) {
				yield(Option{}, fmt.Errorf("%w: type %d at offset %d needs %d bytes, %d left",
					ErrTruncated, buf[offset], offset, int(length)*Unit, len(buf)-offset))
				return
			}

			opt := Option{
				Type:   Type(buf[offset]),
				Len:    length,
				Offset: offset,
				Data:   buf[offset:end:end],
			}
			if !yield(opt, nil) {
				return
			}

			offset = end
			count++
		}
	}
}

// Parse walks the whole option region and returns every option in order.
//
// Either all options are returned or none are, so callers can validate a
// message before acting on any of its content.
func Parse(buf []byte) ([]Option, error) {
	var out []Option
	for opt, err := range Walk(buf) {
		if err != nil {
			return nil, err
		}
		out = append(out, opt)
	}
	return out, nil
}

// Set is a parsed option chain with helpers to fetch options by type.
type Set []Option

// First returns the first option of the given type.
func (m Set) First(t Type) (Option, bool) {
	for _, opt := range m {
		if opt.Type == t {
			return opt, true
		}
	}
	return Option{}, false
}

// All returns every option of the given type.
func (m Set) All(t Type) []Option {
	var out []Option
	for _, opt := range m {
		if opt.Type == t {
			out = append(out, opt)
		}
	}
	return out
}
