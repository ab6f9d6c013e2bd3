package store

import (
	"fmt"
	"strings"
)

const keyPrefix = "blueprint"

// Namespace identifies where results are stored.
type Namespace struct {
	Database   string
	Collection string
}

// String returns "database/collection".
func (n Namespace) String() string {
	return n.Database + "/" + n.Collection
}

// Validate checks that both parts are set and free of key separators.
func (n Namespace) Validate() error {
	for name, v := range map[string]string{"database": n.Database, "collection": n.Collection} {
		if v == "" {
			return fmt.Errorf("namespace %s is required", name)
		}
		if strings.ContainsAny(v, ": ") {
			return fmt.Errorf("namespace %s %q contains ':' or space", name, v)
		}
	}
	return nil
}

func (n Namespace) base() string {
	return strings.Join([]string{keyPrefix, n.Database, n.Collection}, ":")
}

// ResultKey returns the document key of id.
// Format: blueprint:<database>:<collection>:results:<id>
func (n Namespace) ResultKey(id string) string {
	return n.base() + ":results:" + id
}

// DoneKey returns the key of the completed-ID set.
// Format: blueprint:<database>:<collection>:done
func (n Namespace) DoneKey() string {
	return n.base() + ":done"
}
