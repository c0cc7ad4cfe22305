// Zaparoo Lens
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Lens.
//
// Zaparoo Lens is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Lens is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Lens.  If not, see <http://www.gnu.org/licenses/>.

package mocks

import (
	"fmt"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the engine's persistence
// collaborator using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) LastConnected() (channel string, ok bool, err error) {
	args := m.Called()
	if err := args.Error(2); err != nil {
		return "", false, fmt.Errorf("mock operation failed: %w", err)
	}
	return args.String(0), args.Bool(1), nil
}

func (m *MockStore) SaveLastConnected(channel string) error {
	args := m.Called(channel)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockStore) SetUserDisconnected(disconnected bool) error {
	args := m.Called(disconnected)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}
