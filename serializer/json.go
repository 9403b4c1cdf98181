package serializer

import "encoding/json"

// JSON is the default Serializer.
type JSON struct{}

func (JSON) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Deserialize(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func (s JSON) SerializeToString(v any) (string, error) {
	b, err := s.Serialize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s JSON) DeserializeFromString(str string, v any) error {
	return s.Deserialize([]byte(str), v)
}
