package main

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/app"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/storage/postgres"
)

type fakeSchema struct {
	calls []string
	state postgres.MigrationState
	err   error
}

func (f *fakeSchema) MigrateUp(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up:"+strconv.Itoa(steps))
	return f.err
}

func (f *fakeSchema) MigrateDown(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down:"+strconv.Itoa(steps))
	return f.err
}

func (f *fakeSchema) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return f.state, nil
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseCommand(t *testing.T) {
	withDSN := env(map[string]string{app.EnvPostgresDSN: " postgres://env/shop "})

	cases := []struct {
		name    string
		args    []string
		getenv  func(string) string
		want    command
		wantErr bool
	}{
		{
			name:   "up all from env dsn",
			args:   []string{"up"},
			getenv: withDSN,
			want:   command{dsn: "postgres://env/shop", timeout: 30 * time.Second, action: "up"},
		},
		{
			name:   "flag dsn wins",
			args:   []string{"-dsn", "postgres://flag/shop", "-timeout", "5s", "DOWN", "2"},
			getenv: withDSN,
			want:   command{dsn: "postgres://flag/shop", timeout: 5 * time.Second, action: "down", steps: 2},
		},
		{name: "status", args: []string{"status"}, getenv: withDSN, want: command{dsn: "postgres://env/shop", timeout: 30 * time.Second, action: "status"}},
		{name: "no dsn", args: []string{"up"}, getenv: env(nil), wantErr: true},
		{name: "no action", args: nil, getenv: withDSN, wantErr: true},
		{name: "unknown action", args: []string{"sideways"}, getenv: withDSN, wantErr: true},
		{name: "negative steps", args: []string{"up", "-1"}, getenv: withDSN, wantErr: true},
		{name: "status with steps", args: []string{"status", "1"}, getenv: withDSN, wantErr: true},
		{name: "bad flag", args: []string{"-verbose", "up"}, getenv: withDSN, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCommand(tc.args, tc.getenv)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExecute(t *testing.T) {
	cases := []struct {
		cmd       command
		wantCalls []string
	}{
		{cmd: command{action: "up"}, wantCalls: []string{"up:0"}},
		{cmd: command{action: "up", steps: 2}, wantCalls: []string{"up:2"}},
		{cmd: command{action: "down"}, wantCalls: []string{"down:1"}},
		{cmd: command{action: "down", steps: 3}, wantCalls: []string{"down:3"}},
		{cmd: command{action: "status"}},
	}

	for _, tc := range cases {
		s := &fakeSchema{state: postgres.MigrationState{Version: 3, Applied: 3}}
		var out bytes.Buffer

		require.NoError(t, execute(context.Background(), s, tc.cmd, &out))
		require.Equal(t, tc.wantCalls, s.calls, "action %s", tc.cmd.action)
		require.Equal(t, "schema version 3: 3 applied, 0 pending\n", out.String())
	}
}

func TestExecute_PropagatesMigrationError(t *testing.T) {
	s := &fakeSchema{err: errors.New("advisory lock timeout")}

	err := execute(context.Background(), s, command{action: "up"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "migrate up")
	require.ErrorIs(t, err, s.err)
}

func TestRun_FailsWithoutDSN(t *testing.T) {
	err := run([]string{"status"}, env(nil), &bytes.Buffer{})
	require.ErrorContains(t, err, app.EnvPostgresDSN)
}
