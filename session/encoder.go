package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersion = 1

// encode serializes a session to the compact binary blob stored in Redis.
// The format is versioned so records written by older binaries are rejected
// cleanly instead of misread.
func encode(s *Session) ([]byte, error) {
	if len(s.ID) > 65535 || len(s.PrincipalID) > 65535 || len(s.Address) > 65535 {
		return nil, errors.New("session field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	buf.Write(s.FingerprintHash[:])

	for _, v := range []int64{s.CreatedAt, s.LastActivityAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, field := range []string{s.ID, s.PrincipalID, s.Address} {
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{}
	if _, err := io.ReadFull(reader, s.FingerprintHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.LastActivityAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&s.ID, &s.PrincipalID, &s.Address} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*dst = string(field)
	}
	return s, nil
}
