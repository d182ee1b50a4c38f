// Copyright 2024 Terminos Storage Protocol
// This file is part of the tos library.
//
// The tos library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tos library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tos library. If not, see <http://www.gnu.org/licenses/>.

package codec

import (
	"errors"
	"fmt"
)

// Sentinel decode errors. Compare against these with errors.Is; Decode
// never panics, regardless of how truncated or malformed its input is.
var (
	ErrTruncated     = errors.New("codec: truncated message")
	ErrUnknownKind   = errors.New("codec: unknown envelope kind")
	ErrUnknownBody   = errors.New("codec: unknown body discriminator")
	ErrUnknownFamily = errors.New("codec: unknown address family")
	ErrOldVersion    = errors.New("codec: legacy protocol version")
	ErrBadMagic      = errors.New("codec: bad magic prefix")
)

// DecodeError wraps a sentinel decode error with the byte offset decoding
// failed at, for diagnostics. errors.Is(err, ErrTruncated) and friends
// still work against a *DecodeError.
type DecodeError struct {
	Err    error
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s (offset %d)", e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(err error, offset int) error {
	return &DecodeError{Err: err, Offset: offset}
}
