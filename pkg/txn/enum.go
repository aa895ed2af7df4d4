package txn

import "encoding/json"

func marshalEnumString(name string) ([]byte, error) {
	return json.Marshal(name)
}

func unmarshalEnumString(data []byte) (string, error) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return "", err
	}
	return name, nil
}
