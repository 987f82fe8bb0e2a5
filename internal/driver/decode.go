package driver

import (
	"encoding/json"
	"fmt"

	"github.com/qorvex/qorvex-host/internal/element"
)

func decodeTree(treeJSON string) ([]*element.Element, error) {
	var roots []*element.Element
	if err := json.Unmarshal([]byte(treeJSON), &roots); err != nil {
		return nil, fmt.Errorf("driver: decode tree json: %w", err)
	}
	return roots, nil
}

func decodeElement(elementJSON string) (*element.Element, error) {
	var e element.Element
	if err := json.Unmarshal([]byte(elementJSON), &e); err != nil {
		return nil, fmt.Errorf("driver: decode element json: %w", err)
	}
	return &e, nil
}
