// Package views holds the framework-free state machines behind the roster
// screens: ListView for paging and row actions, EditForm for drafts and
// field validation, DetailView for one record, and FaceGallery for a
// record's face images.
//
// Views read through the query cache and write through the mutation
// coordinator, both reached via the Roster interface. Every view guards
// against late results: once it is closed, or a newer load has started,
// an older outcome is discarded and reported as ErrStaleResult.
package views
