package file

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/logger"
)

// Manifest is the result of parsing one entity manifest file.
type Manifest struct {
	Entities          []entity.Entity
	Relations         []entity.EntityRelation
	SelectedRelations []entity.FieldSelectedEntityRelation
}

type manifestDoc struct {
	// Set when the document is a single entity.
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`

	Entities  []entityDoc   `yaml:"entities"`
	Relations []relationDoc `yaml:"relations"`
}

type entityDoc struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   metadataDoc    `yaml:"metadata"`
	Spec       map[string]any `yaml:"spec"`
}

type metadataDoc struct {
	Name        string            `yaml:"name"`
	Namespace   string            `yaml:"namespace"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type relationDoc struct {
	Relation  string         `yaml:"relation"`
	Namespace string         `yaml:"namespace"`
	Source    endpointDoc    `yaml:"source"`
	Target    endpointDoc    `yaml:"target"`
	Spec      map[string]any `yaml:"spec"`
}

// endpointDoc is one end of a relation: either a concrete entity reference or
// a "field=value" selector resolved against the live graph at apply time.
type endpointDoc struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Name       string `yaml:"name"`
	Namespace  string `yaml:"namespace"`
	Selector   string `yaml:"selector"`
}

func (e endpointDoc) isSelector() bool { return e.Selector != "" }

func (e endpointDoc) reference(defaultNamespace string) (entity.EntityReference, error) {
	if e.APIVersion == "" || e.Kind == "" || e.Name == "" {
		return entity.EntityReference{}, fmt.Errorf("endpoint needs apiVersion, kind and name")
	}
	ns := e.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	return entity.EntityReference{
		APIVersion: e.APIVersion,
		Kind:       e.Kind,
		Name:       e.Name,
		Namespace:  ns,
	}, nil
}

func (e endpointDoc) fieldSelector() (entity.FieldSelector, error) {
	sel, err := entity.ParseFieldSelector(e.Selector)
	if err != nil {
		return entity.FieldSelector{}, err
	}
	sel.APIVersion = e.APIVersion
	sel.Kind = e.Kind
	return sel, nil
}

// ParseManifest parses a manifest into entities and relations. Three layouts
// are accepted: a wrapper document with entities and/or relations keys, a
// single entity document, and a bare list of entities. Entries that fail
// validation are logged and skipped so one bad record does not drop a file.
func ParseManifest(content []byte, filePath, defaultNamespace string, labels map[string]string) (Manifest, error) {
	var m Manifest

	var doc manifestDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		var list []entityDoc
		if listErr := yaml.Unmarshal(content, &list); listErr != nil {
			return m, fmt.Errorf("parse %s: %w", filePath, err)
		}
		doc.Entities = list
	}

	entityDocs := doc.Entities
	if doc.APIVersion != "" && doc.Kind != "" {
		var single entityDoc
		if err := yaml.Unmarshal(content, &single); err != nil {
			return m, fmt.Errorf("parse %s: %w", filePath, err)
		}
		entityDocs = []entityDoc{single}
	}

	for _, ed := range entityDocs {
		e, err := buildEntity(ed, filePath, defaultNamespace, labels)
		if err != nil {
			logger.Warn("skipping invalid entity", "file", filePath, "err", err)
			continue
		}
		m.Entities = append(m.Entities, e)
	}

	for _, rd := range doc.Relations {
		if err := appendRelation(&m, rd, defaultNamespace); err != nil {
			logger.Warn("skipping invalid relation", "file", filePath, "err", err)
		}
	}

	return m, nil
}

func buildEntity(d entityDoc, filePath, defaultNamespace string, labels map[string]string) (entity.Entity, error) {
	if d.APIVersion == "" {
		return entity.Entity{}, fmt.Errorf("missing apiVersion")
	}
	if d.Kind == "" {
		return entity.Entity{}, fmt.Errorf("missing kind")
	}
	if d.Metadata.Name == "" {
		return entity.Entity{}, fmt.Errorf("missing metadata.name")
	}

	ns := d.Metadata.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	e := entity.New(d.APIVersion, d.Kind, d.Metadata.Name, ns)
	e.Spec = d.Spec
	e.Metadata.Annotations = d.Metadata.Annotations

	e.Metadata.Labels = map[string]string{}
	for k, v := range d.Metadata.Labels {
		e.Metadata.Labels[k] = v
	}
	e.Metadata.Labels["source-file"] = filePath
	for k, v := range labels {
		e.Metadata.Labels[k] = v
	}

	return e, nil
}

func appendRelation(m *Manifest, d relationDoc, defaultNamespace string) error {
	if d.Relation == "" {
		return fmt.Errorf("missing relation type")
	}
	ns := d.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	// All concrete: a plain relation the framework can diff by signature.
	if !d.Source.isSelector() && !d.Target.isSelector() {
		source, err := d.Source.reference(ns)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		target, err := d.Target.reference(ns)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		m.Relations = append(m.Relations, entity.EntityRelation{
			Namespace: ns,
			Relation:  d.Relation,
			Source:    source,
			Target:    target,
			Spec:      d.Spec,
		})
		return nil
	}

	rel := entity.FieldSelectedEntityRelation{
		Namespace: ns,
		Relation:  d.Relation,
		Spec:      d.Spec,
	}

	if d.Source.isSelector() {
		sel, err := d.Source.fieldSelector()
		if err != nil {
			return fmt.Errorf("source selector: %w", err)
		}
		rel.SourceSelector = &sel
	} else {
		ref, err := d.Source.reference(ns)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		rel.Source = &ref
	}

	if d.Target.isSelector() {
		sel, err := d.Target.fieldSelector()
		if err != nil {
			return fmt.Errorf("target selector: %w", err)
		}
		rel.TargetSelector = &sel
	} else {
		ref, err := d.Target.reference(ns)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		rel.Target = &ref
	}

	m.SelectedRelations = append(m.SelectedRelations, rel)
	return nil
}
