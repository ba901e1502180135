/*
The sync package decides which compiled theme files need to be uploaded after
each build.

There are two kinds of paths:
 1. Artifact names -- the keys the bundler uses for its outputs (for example
    `static.js` or `assets/theme.js`). These key the fingerprint table.
 2. Sync paths -- where the artifact lives relative to the dist directory.
    These are what gets handed to the sync client and shown to the user.

The first build after startup uploads every emitted file. Every later build
only uploads the files whose contents hash differently than they did in the
previous build. Because the fingerprint table only lives in memory, a restart
always begins with a full upload.

The ChangeDetector isn't safe for concurrent use. The coordinator in
pkg/devserver guarantees that only one build is compared at a time.
*/
package sync
