// Package document manages files attached to the conversation as reference
// material. The registry validates candidate files, tracks each one through
// the pending, uploading, and terminal success or error states, and supports
// retrying failed uploads and removing entries. Uploads go to the document
// service as multipart requests; an optional directory watcher feeds files
// dropped into an inbox folder straight into the registry.
package document
