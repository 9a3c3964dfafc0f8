// Package staging assembles a container build context from resource rules.
//
// Rules are applied strictly in order and later rules overwrite earlier ones
// at the same relative path. The primary source directory (the one holding the
// Dockerfile) is appended as the final rule unless the job selects
// types.MergeOrderPrimaryFirst. With the default order a resource that ships
// its own Dockerfile is silently replaced by the primary one, which is usually
// what is wanted but is the most common cause of "my file was not copied"
// reports.
//
// A rule without include or exclude patterns and with a target path is copied
// as a whole tree, empty directories included. Every other rule copies only
// the matched regular files. Nothing is ever removed from the staging root, so
// files from previous runs survive unless the caller cleans the directory.
package staging
