package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const sessionFormatVersion = 1

const (
	flagTwoFactorVerified byte = 1 << iota
	flagRememberMe
)

// Encode serializes s. SessionID is not encoded; it is the Redis key.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	var buf bytes.Buffer
	buf.Grow(4 + len(s.UserID) + len(s.OrganizationID) + len(s.Role) + 18)

	buf.WriteByte(sessionFormatVersion)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", s.UserID},
		{"organizationID", s.OrganizationID},
		{"role", s.Role},
	} {
		if len(field.value) > 255 {
			return nil, fmt.Errorf("%s too long", field.name)
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	buf.WriteByte(byte(s.Method))

	var flags byte
	if s.TwoFactorVerified {
		flags |= flagTwoFactorVerified
	}
	if s.RememberMe {
		flags |= flagRememberMe
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersion {
		return nil, fmt.Errorf("unsupported session format version %d", version)
	}

	s := &Session{}

	if s.UserID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if s.OrganizationID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readShortString(reader); err != nil {
		return nil, err
	}

	method, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if Method(method) > MethodPasskey {
		return nil, errors.New("invalid session method")
	}
	s.Method = Method(method)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^(flagTwoFactorVerified|flagRememberMe) != 0 {
		return nil, errors.New("invalid session flags")
	}
	s.TwoFactorVerified = flags&flagTwoFactorVerified != 0
	s.RememberMe = flags&flagRememberMe != 0

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
