// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bdb registers a walletdb backend named "bdb" that stores data in a
// bbolt file.  Open and Create take the file path and, optionally, a lock
// timeout:
//
//	db, err := walletdb.Create("bdb", "path/to/wallet.db", time.Minute)
package bdb

import (
	"fmt"
	"time"

	"github.com/btcfed/fedwallet/walletdb"
)

const (
	dbType = "bdb"

	defaultLockTimeout = 10 * time.Second
)

func parseArgs(funcName string, args ...interface{}) (string, time.Duration, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", 0, fmt.Errorf("invalid arguments to %s.%s -- "+
			"expected database path and optional timeout", dbType,
			funcName)
	}

	dbPath, ok := args[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("first argument to %s.%s is invalid "+
			"-- expected database path string", dbType, funcName)
	}

	timeout := defaultLockTimeout
	if len(args) == 2 {
		timeout, ok = args[1].(time.Duration)
		if !ok {
			return "", 0, fmt.Errorf("second argument to %s.%s is "+
				"invalid -- expected timeout", dbType, funcName)
		}
	}

	return dbPath, timeout, nil
}

func openDBDriver(args ...interface{}) (walletdb.DB, error) {
	dbPath, timeout, err := parseArgs("Open", args...)
	if err != nil {
		return nil, err
	}
	return openDB(dbPath, false, timeout)
}

func createDBDriver(args ...interface{}) (walletdb.DB, error) {
	dbPath, timeout, err := parseArgs("Create", args...)
	if err != nil {
		return nil, err
	}
	return openDB(dbPath, true, timeout)
}

func init() {
	driver := walletdb.Driver{
		DbType: dbType,
		Create: createDBDriver,
		Open:   openDBDriver,
	}
	if err := walletdb.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("failed to register database driver '%s': %v",
			dbType, err))
	}
}
