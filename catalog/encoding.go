package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Revision is the encoding revision written in front of every
// persisted catalog value. Bumping it requires teaching the affected
// types to migrate from the previous revision.
const Revision byte = 1

var (
	// ErrUnknownRevision indicates a persisted value written by a
	// newer encoding than this build understands
	ErrUnknownRevision = errors.New("unknown encoding revision")
	// ErrMalformedValue indicates a persisted value that could not
	// be decoded at all
	ErrMalformedValue = errors.New("malformed catalog value")
)

// Migrator is implemented by definition types that can upgrade
// themselves from an older encoding revision
type Migrator interface {
	// Migrate decodes data, the JSON body of an older revision, into
	// the receiver. It returns false if the revision is not one it
	// knows how to migrate from.
	Migrate(revision byte, data []byte) (bool, error)
}

// Marshal encodes v as its JSON representation prefixed with the
// current encoding revision byte
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)

	if err != nil {
		return nil, fmt.Errorf("could not marshal catalog value: %w", err)
	}

	return append([]byte{Revision}, data...), nil
}

// Unmarshal decodes a revision-prefixed value into v. Values written
// at an older revision are migrated when v implements Migrator.
func Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty value", ErrMalformedValue)
	}

	revision, body := data[0], data[1:]

	if revision == Revision {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedValue, err.Error())
		}

		return nil
	}

	if revision > Revision {
		return fmt.Errorf("%w: revision %d", ErrUnknownRevision, revision)
	}

	migrator, ok := v.(Migrator)

	if !ok {
		return fmt.Errorf("%w: revision %d", ErrUnknownRevision, revision)
	}

	migrated, err := migrator.Migrate(revision, body)

	if err != nil {
		return fmt.Errorf("could not migrate catalog value from revision %d: %w", revision, err)
	}

	if !migrated {
		return fmt.Errorf("%w: revision %d", ErrUnknownRevision, revision)
	}

	return nil
}

var _ Migrator = (*TableDefinition)(nil)

// Migrate implements Migrator.Migrate. Revision 0 stored the change
// feed as a bare enabled flag with no expiry; tables migrated from it
// keep the feed with no expiry so nothing is pruned behind their
// back.
func (definition *TableDefinition) Migrate(revision byte, data []byte) (bool, error) {
	if revision != 0 {
		return false, nil
	}

	var old struct {
		ID         TableID `json:"id"`
		Name       string  `json:"name"`
		Changefeed bool    `json:"changefeed,omitempty"`
		Comment    string  `json:"comment,omitempty"`
	}

	if err := json.Unmarshal(data, &old); err != nil {
		return false, err
	}

	definition.ID = old.ID
	definition.Name = old.Name
	definition.Comment = old.Comment
	definition.Changefeed = nil

	if old.Changefeed {
		definition.Changefeed = &ChangefeedConfig{}
	}

	return true, nil
}
