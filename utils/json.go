package utils

import "encoding/json"

// Marshal generic struct to JSON
func MarshalToJSON[T any](input T) ([]byte, error) {
	return json.Marshal(input)
}

// Unmarshal JSON to generic struct. Empty input leaves output untouched.
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, output)
}
