// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build tools

// Package tools pins the versions of development tools used on this
// repository, such as the import formatter run over every package.
package tools

import (
	_ "github.com/rinchsan/gosimports/cmd/gosimports"
)
