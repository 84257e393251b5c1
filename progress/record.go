package progress

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kubereactor/kreactor/object"
)

// Record is the persisted execution state of one handler within one cause
// episode. Timestamps are ISO 8601 strings in UTC without a zone designator.
type Record struct {
	Started *string  `json:"started,omitempty"`
	Stopped *string  `json:"stopped,omitempty"`
	Delayed *string  `json:"delayed,omitempty"`
	Retries int      `json:"retries"`
	Success bool     `json:"success"`
	Failure bool     `json:"failure"`
	Message *string  `json:"message,omitempty"`
	Subrefs []string `json:"subrefs,omitempty"`
}

// marshalRecord encodes a record. In verbose mode the null fields are kept
// explicitly instead of being omitted.
func marshalRecord(rec *Record, verbose bool) ([]byte, error) {
	if !verbose {
		return json.Marshal(rec)
	}
	full := map[string]interface{}{
		"started": rec.Started,
		"stopped": rec.Stopped,
		"delayed": rec.Delayed,
		"retries": rec.Retries,
		"success": rec.Success,
		"failure": rec.Failure,
		"message": rec.Message,
		"subrefs": rec.Subrefs,
	}
	return json.Marshal(full)
}

func unmarshalRecord(data []byte) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode a progress record")
	}
	return rec, nil
}

// recordToMap converts a record into a JSON-like tree for the status-subtree
// backend, which stores records as nested dicts rather than strings.
func recordToMap(rec *Record, verbose bool) (map[string]interface{}, error) {
	data, err := marshalRecord(rec, verbose)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func recordFromMap(val interface{}) (*Record, error) {
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("progress record is of the type %T, expected map[string]interface{}", val)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return unmarshalRecord(data)
}

func annotationValue(body object.Body, key string) (string, bool) {
	annotations := object.NestedMap(body, "metadata", "annotations")
	if annotations == nil {
		return "", false
	}
	val, found := annotations[key]
	if !found {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}
