package model

import (
	"os"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// FileMode type to wrap os.FileMode with a lossless json conversion
type FileMode os.FileMode

// MarshalJSON implements json.Marshaller
func (f FileMode) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(strconv.FormatUint(uint64(uint32(f)), 8))
}

func (f FileMode) String() string {
	return strconv.FormatUint(uint64(uint32(f)), 8)
}

// UnmarshalJSON implements json.Unmarshaller
func (f *FileMode) UnmarshalJSON(data []byte) error {
	var str string
	if err := jsoniter.Unmarshal(data, &str); err != nil {
		return err
	}
	res, err := strconv.ParseUint(str, 8, 32)
	if err != nil {
		return err
	}
	*f = FileMode(uint32(res))
	return nil
}

// IsSymlink tells if the mode describes a symbolic link
func (f FileMode) IsSymlink() bool {
	return os.FileMode(f)&os.ModeSymlink != 0
}

// Perm returns the permission bits
func (f FileMode) Perm() os.FileMode {
	return os.FileMode(f).Perm()
}
