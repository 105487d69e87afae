package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const (
	sep       = "|"
	numFields = 4
)

var (
	ErrMalformed = errors.New("malformed payload")
	ErrChecksum  = errors.New("payload checksum mismatch")
	ErrBadName   = errors.New("invalid file name")
)

// Record is the header of an encoded file: everything but the data itself.
type Record struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return errors.Wrapf(ErrBadName, "%q", name)
	}
	if strings.ContainsAny(name, sep+`/\`) {
		return errors.Wrapf(ErrBadName, "%q contains a reserved character", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.Wrapf(ErrBadName, "%q contains a control character", name)
		}
	}
	return nil
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Encode renders data as name|size|sha256|base64.
func Encode(name string, data []byte) (string, Record, error) {
	if err := ValidateName(name); err != nil {
		return "", Record{}, err
	}
	rec := Record{
		Name:     name,
		Size:     int64(len(data)),
		Checksum: Checksum(data),
	}
	sb := strings.Builder{}
	sb.Grow(int(EncodedLen(name, rec.Size)))
	sb.WriteString(rec.Name)
	sb.WriteString(sep)
	sb.WriteString(strconv.FormatInt(rec.Size, 10))
	sb.WriteString(sep)
	sb.WriteString(rec.Checksum)
	sb.WriteString(sep)
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String(), rec, nil
}

func EncodedLen(name string, size int64) int64 {
	header := len(name) + len(strconv.FormatInt(size, 10)) + sha256.Size*2 + 3*len(sep)
	return int64(header) + int64(base64.StdEncoding.EncodedLen(int(size)))
}

func DecodeHeader(notes string) (Record, error) {
	rec, _, err := split(notes)
	return rec, err
}

func Decode(notes string) (Record, []byte, error) {
	rec, encoded, err := split(notes)
	if err != nil {
		return Record{}, nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Record{}, nil, errors.Wrapf(ErrMalformed, "data: %v", err)
	}
	if int64(len(data)) != rec.Size {
		return Record{}, nil, errors.Wrapf(ErrMalformed, "size: header says %d, data has %d", rec.Size, len(data))
	}
	sum := sha256.Sum256(data)
	want, _ := hex.DecodeString(rec.Checksum)
	if !bytes.Equal(sum[:], want) {
		return Record{}, nil, errors.Wrapf(ErrChecksum, "%s", rec.Name)
	}
	return rec, data, nil
}

func split(notes string) (Record, string, error) {
	// providers may fold or pad the notes field
	notes = strings.TrimSpace(notes)
	fields := strings.SplitN(notes, sep, numFields)
	if len(fields) != numFields {
		return Record{}, "", errors.Wrapf(ErrMalformed, "expected %d fields, got %d", numFields, len(fields))
	}
	name, sizeStr, sum, data := fields[0], fields[1], fields[2], fields[3]
	if err := ValidateName(name); err != nil {
		return Record{}, "", errors.Wrapf(ErrMalformed, "name: %v", err)
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return Record{}, "", errors.Wrapf(ErrMalformed, "size: %q", sizeStr)
	}
	if len(sum) != sha256.Size*2 || strings.ToLower(sum) != sum {
		return Record{}, "", errors.Wrapf(ErrMalformed, "checksum: %q", sum)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return Record{}, "", errors.Wrapf(ErrMalformed, "checksum: %q", sum)
	}
	if strings.Contains(data, sep) {
		return Record{}, "", errors.Wrap(ErrMalformed, "data: unexpected separator")
	}
	return Record{Name: name, Size: size, Checksum: sum}, data, nil
}
