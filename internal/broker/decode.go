package broker

import (
	"encoding/json"

	"usagerelay/pkg/errors"
	"usagerelay/pkg/models"
)

// Decode parses a broker payload. Anything but a JSON object is rejected.
func Decode(data []byte) (models.Notification, error) {
	var body models.Notification
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.ErrMalformedNotification.WithCause(err)
	}
	if body == nil {
		return nil, errors.ErrMalformedNotification.WithMessage("payload is not a JSON object")
	}
	return body, nil
}
