// Package all imports every built-in backend so they register themselves.
package all

import (
	// active backends
	_ "github.com/fs9fs/fs9/backend/localfs"
	_ "github.com/fs9fs/fs9/backend/memfs"
	_ "github.com/fs9fs/fs9/backend/pagefs"
	_ "github.com/fs9fs/fs9/backend/proxyfs"
	_ "github.com/fs9fs/fs9/backend/streamfs"
)
