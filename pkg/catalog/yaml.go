package catalog

import (
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Features []Definition `yaml:"features"`
}

// LoadYAML reads a catalog document:
//
//	features:
//	  - name: social
//	    category: social
//	    audience: all
//	    rollout: 100
//	    enabled: true
//	  - name: social.feed
//	    parent: social
//	    dependencies: [profiles]
//
// Unknown keys are rejected.
func LoadYAML(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrDecodeCatalog, err)
	}
	return New(doc.Features...)
}

// LoadFile reads a catalog document from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrDecodeCatalog, err)
	}
	defer f.Close()
	return LoadYAML(f)
}
