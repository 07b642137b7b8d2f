package persist

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/kgerrors"
)

// metaSchema is one relation's persisted schema entry in meta.json
// (spec §6: "root/<kg>/meta.json (schema catalog)").
type metaSchema struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Kind    string   `json:"kind"`
}

// WriteMeta serializes cat's relation schemas to root/meta.json.
func WriteMeta(root string, cat *catalog.Catalog) error {
	var entries []metaSchema
	for _, name := range cat.Names() {
		schema, kind, ok := cat.Lookup(name)
		if !ok {
			continue
		}
		kindStr := "base"
		if kind == catalog.KindDerived {
			kindStr = "derived"
		}
		entries = append(entries, metaSchema{Name: schema.Name, Columns: schema.Columns, Kind: kindStr})
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return kgerrors.ErrPersistSerde.New(err.Error())
	}
	if err := os.WriteFile(filepath.Join(root, "meta.json"), b, 0o644); err != nil {
		return kgerrors.ErrPersistIO.New(err.Error())
	}
	return nil
}

// LoadMeta restores relation schemas from root/meta.json into cat. Absence
// of the file is not an error — a brand-new KG has none yet.
func LoadMeta(root string, cat *catalog.Catalog) error {
	data, err := os.ReadFile(filepath.Join(root, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kgerrors.ErrPersistIO.New(err.Error())
	}

	var entries []metaSchema
	if err := json.Unmarshal(data, &entries); err != nil {
		return kgerrors.ErrPersistSerde.New(err.Error())
	}
	for _, e := range entries {
		kind := catalog.KindBase
		if e.Kind == "derived" {
			kind = catalog.KindDerived
		}
		if err := cat.Register(catalog.Schema{Name: e.Name, Columns: e.Columns}, kind); err != nil {
			return err
		}
	}
	return nil
}
