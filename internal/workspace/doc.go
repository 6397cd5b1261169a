// Package workspace owns the output roots of a build.
//
// A Manager knows every directory the stages write into (intermediate, build
// and dist) and can remove them all before a full build so nothing from a
// previous configuration survives. It also keeps a manifest that records, for
// each output file, the stage that wrote it, a hash of the inputs it was built
// from and a hash of its content. Targeted reruns never clean; they only add
// or overwrite files, and the manifest reports which outputs actually changed.
package workspace
