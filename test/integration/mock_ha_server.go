// Package integration exercises the daemon end to end against a mock Home
// Assistant and a mock outage API.
// This file re-exports types from pkg/testutil for the tests in this package.
package integration

import (
	"plannedoutage/pkg/testutil"
)

type MockHAServer = testutil.MockHAServer
type EntityState = testutil.EntityState
type ServiceCall = testutil.ServiceCall
type StateWrite = testutil.StateWrite

// NewMockHAServer creates a new mock HA server
var NewMockHAServer = testutil.NewMockHAServer

// Helper function aliases
var FilterServiceCalls = testutil.FilterServiceCalls
var FindServiceCallWithData = testutil.FindServiceCallWithData
var FindServiceCallWithEntityID = testutil.FindServiceCallWithEntityID
