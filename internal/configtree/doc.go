// Package configtree models configuration as an ordered, case-insensitive
// key/value tree. Trees are built from YAML documents, from flattened
// "A:B:C" pairs, or both, and can be overlaid from environment variables.
// Consumers navigate sections by path and read children in declaration order.
package configtree
