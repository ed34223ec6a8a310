// Package model defines the sync report shared by the pipeline, the report
// writers and the state database.
//
// The types are plain data and serialize to JSON. They do not depend on
// the packages that produce them, so every layer can use them without
// import cycles.
package model
