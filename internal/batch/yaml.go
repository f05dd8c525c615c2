package batch

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DecodeYAML reads a YAML sequence of candidates and sends one Item per
// element. A raw key becomes the payload; otherwise the element itself is
// encoded as JSON. Item.Line is the element's line in the document. Both
// channels are closed when processing completes.
func DecodeYAML(ctx context.Context, r io.Reader) (<-chan Item, <-chan error) {
	itemCh := make(chan Item, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(itemCh)
		defer close(errCh)

		var nodes []yaml.Node
		if err := yaml.NewDecoder(r).Decode(&nodes); err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "yaml: decode document")
			return
		}

		for i := range nodes {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "yaml: context cancelled")
				return
			}

			node := &nodes[i]
			it, err := yamlItem(node)
			if err != nil {
				errCh <- err
				return
			}

			select {
			case itemCh <- it:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "yaml: context cancelled")
				return
			}
		}
	}()

	return itemCh, errCh
}

func yamlItem(node *yaml.Node) (Item, error) {
	var e entry
	if err := node.Decode(&e); err != nil {
		return Item{}, eris.Wrapf(err, "yaml: decode element at line %d", node.Line)
	}

	var doc map[string]any
	if err := node.Decode(&doc); err != nil {
		return Item{}, eris.Wrapf(err, "yaml: decode element at line %d", node.Line)
	}
	var payload any = doc
	if v, ok := doc["raw"]; ok && v != nil {
		payload = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, eris.Wrapf(err, "yaml: encode payload at line %d", node.Line)
	}

	return e.item(node.Line, raw), nil
}
