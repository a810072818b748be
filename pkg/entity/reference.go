package entity

import "fmt"

// EntityReference identifies an entity without carrying its content.
type EntityReference struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
}

// ID returns the identity string for the referenced entity.
func (r EntityReference) ID() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.APIVersion, r.Kind, r.Namespace, r.Name)
}

// Group returns the group part of the apiVersion, or "" for ungrouped versions.
func (r EntityReference) Group() string {
	return splitAPIVersion(r.APIVersion, 0)
}

// Version returns the version part of the apiVersion.
func (r EntityReference) Version() string {
	return splitAPIVersion(r.APIVersion, 1)
}
