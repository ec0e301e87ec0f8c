// Package catalog supplies the patch descriptors the resolver works on.
//
// Registry holds the descriptors registered by the host's components and
// any number of sources read on demand. DirSource turns the *.xml manifests
// of a directory into descriptors; Tool manifests and files that fail to
// parse are reported by Scan and left out. Watcher executes manifests
// dropped into a hot folder once their writes settle.
package catalog
