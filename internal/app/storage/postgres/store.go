// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/airline"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/insurance"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/oracle"
	"github.com/SuretyLabs/surety_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ControlStore = (*Store)(nil)
var _ storage.AirlineStore = (*Store)(nil)
var _ storage.FlightStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)
var _ storage.OracleStore = (*Store)(nil)

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB { return s.db.DB }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// --- ControlStore -----------------------------------------------------------

func (s *Store) GetOperational(ctx context.Context) (bool, error) {
	var operational bool
	err := s.db.GetContext(ctx, &operational,
		`SELECT operational FROM surety_control WHERE id = 1`)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return operational, nil
}

func (s *Store) SetOperational(ctx context.Context, operational bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surety_control (id, operational, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET operational = $1, updated_at = NOW()
	`, operational)
	return err
}

// --- AirlineStore -----------------------------------------------------------

type airlineRow struct {
	Address      string    `db:"address"`
	Registered   bool      `db:"registered"`
	FundedAmount int64     `db:"funded_amount"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r airlineRow) toDomain() airline.Airline {
	return airline.Airline{
		Address:      r.Address,
		Registered:   r.Registered,
		FundedAmount: uint64(r.FundedAmount),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Store) CreateAirline(ctx context.Context, a airline.Airline) (airline.Airline, error) {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surety_airlines (address, registered, funded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.Address, a.Registered, int64(a.FundedAmount), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return airline.Airline{}, err
	}
	return a, nil
}

func (s *Store) UpdateAirline(ctx context.Context, a airline.Airline) (airline.Airline, error) {
	a.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE surety_airlines
		SET registered = $2, funded_amount = $3, updated_at = $4
		WHERE address = $1
	`, a.Address, a.Registered, int64(a.FundedAmount), a.UpdatedAt)
	if err != nil {
		return airline.Airline{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return airline.Airline{}, sql.ErrNoRows
	}
	return a, nil
}

func (s *Store) GetAirline(ctx context.Context, address string) (airline.Airline, error) {
	var row airlineRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, registered, funded_amount, created_at, updated_at
		FROM surety_airlines
		WHERE address = $1
	`, address)
	if err != nil {
		return airline.Airline{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListAirlines(ctx context.Context) ([]airline.Airline, error) {
	var rows []airlineRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, registered, funded_amount, created_at, updated_at
		FROM surety_airlines
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	airlines := make([]airline.Airline, 0, len(rows))
	for _, row := range rows {
		airlines = append(airlines, row.toDomain())
	}
	return airlines, nil
}

func (s *Store) AddVote(ctx context.Context, candidate, voter string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surety_airline_votes (candidate, voter)
		VALUES ($1, $2)
		ON CONFLICT (candidate, voter) DO NOTHING
	`, candidate, voter)
	if err != nil {
		return 0, err
	}
	return s.VoteCount(ctx, candidate)
}

func (s *Store) VoteCount(ctx context.Context, candidate string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM surety_airline_votes WHERE candidate = $1`, candidate)
	return count, err
}

func (s *Store) ClearVotes(ctx context.Context, candidate string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM surety_airline_votes WHERE candidate = $1`, candidate)
	return err
}

// --- FlightStore ------------------------------------------------------------

type flightRow struct {
	Key       string    `db:"key"`
	Airline   string    `db:"airline"`
	Code      string    `db:"code"`
	Departure int64     `db:"departure"`
	Status    int16     `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r flightRow) toDomain() flight.Flight {
	return flight.Flight{
		Key:       r.Key,
		Airline:   r.Airline,
		Code:      r.Code,
		Timestamp: r.Departure,
		Status:    flight.StatusCode(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *Store) CreateFlight(ctx context.Context, f flight.Flight) (flight.Flight, error) {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surety_flights (key, airline, code, departure, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.Key, f.Airline, f.Code, f.Timestamp, int16(f.Status), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return flight.Flight{}, err
	}
	return f, nil
}

func (s *Store) UpdateFlight(ctx context.Context, f flight.Flight) (flight.Flight, error) {
	f.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE surety_flights
		SET status = $2, updated_at = $3
		WHERE key = $1
	`, f.Key, int16(f.Status), f.UpdatedAt)
	if err != nil {
		return flight.Flight{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return flight.Flight{}, sql.ErrNoRows
	}
	return f, nil
}

func (s *Store) GetFlight(ctx context.Context, key string) (flight.Flight, error) {
	var row flightRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key, airline, code, departure, status, created_at, updated_at
		FROM surety_flights
		WHERE key = $1
	`, key)
	if err != nil {
		return flight.Flight{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListFlights(ctx context.Context) ([]flight.Flight, error) {
	var rows []flightRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT key, airline, code, departure, status, created_at, updated_at
		FROM surety_flights
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	flights := make([]flight.Flight, 0, len(rows))
	for _, row := range rows {
		flights = append(flights, row.toDomain())
	}
	return flights, nil
}

// --- PolicyStore ------------------------------------------------------------

type policyRow struct {
	ID        string    `db:"id"`
	FlightKey string    `db:"flight_key"`
	Passenger string    `db:"passenger"`
	Premium   int64     `db:"premium"`
	Purchased bool      `db:"purchased"`
	Settled   bool      `db:"settled"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r policyRow) toDomain() insurance.Policy {
	return insurance.Policy{
		FlightKey: r.FlightKey,
		Passenger: r.Passenger,
		Premium:   uint64(r.Premium),
		Purchased: r.Purchased,
		Settled:   r.Settled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *Store) CreatePolicy(ctx context.Context, p insurance.Policy) (insurance.Policy, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surety_policies (id, flight_key, passenger, premium, purchased, settled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), p.FlightKey, p.Passenger, int64(p.Premium), p.Purchased, p.Settled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return insurance.Policy{}, err
	}
	return p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p insurance.Policy) (insurance.Policy, error) {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE surety_policies
		SET purchased = $3, settled = $4, updated_at = $5
		WHERE flight_key = $1 AND passenger = $2
	`, p.FlightKey, p.Passenger, p.Purchased, p.Settled, p.UpdatedAt)
	if err != nil {
		return insurance.Policy{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return insurance.Policy{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, flightKey, passenger string) (insurance.Policy, error) {
	var row policyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, flight_key, passenger, premium, purchased, settled, created_at, updated_at
		FROM surety_policies
		WHERE flight_key = $1 AND passenger = $2
	`, flightKey, passenger)
	if err != nil {
		return insurance.Policy{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListPoliciesByFlight(ctx context.Context, flightKey string) ([]insurance.Policy, error) {
	var rows []policyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, flight_key, passenger, premium, purchased, settled, created_at, updated_at
		FROM surety_policies
		WHERE flight_key = $1
		ORDER BY created_at
	`, flightKey)
	if err != nil {
		return nil, err
	}
	policies := make([]insurance.Policy, 0, len(rows))
	for _, row := range rows {
		policies = append(policies, row.toDomain())
	}
	return policies, nil
}

func (s *Store) AddCredit(ctx context.Context, passenger string, amount uint64) (uint64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		INSERT INTO surety_credits (passenger, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (passenger) DO UPDATE
		SET balance = surety_credits.balance + $2, updated_at = NOW()
		RETURNING balance
	`, passenger, int64(amount))
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

func (s *Store) GetCredit(ctx context.Context, passenger string) (uint64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance,
		`SELECT balance FROM surety_credits WHERE passenger = $1`, passenger)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// --- OracleStore ------------------------------------------------------------

type oracleRow struct {
	Address      string    `db:"address"`
	IndexA       int16     `db:"index_a"`
	IndexB       int16     `db:"index_b"`
	IndexC       int16     `db:"index_c"`
	RegisteredAt time.Time `db:"registered_at"`
}

func (r oracleRow) toDomain() oracle.Oracle {
	return oracle.Oracle{
		Address:      r.Address,
		Indexes:      [oracle.IndexesPerOracle]uint8{uint8(r.IndexA), uint8(r.IndexB), uint8(r.IndexC)},
		RegisteredAt: r.RegisteredAt,
	}
}

func (s *Store) CreateOracle(ctx context.Context, o oracle.Oracle) (oracle.Oracle, error) {
	o.RegisteredAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surety_oracles (address, index_a, index_b, index_c, registered_at)
		VALUES ($1, $2, $3, $4, $5)
	`, o.Address, int16(o.Indexes[0]), int16(o.Indexes[1]), int16(o.Indexes[2]), o.RegisteredAt)
	if err != nil {
		return oracle.Oracle{}, err
	}
	return o, nil
}

func (s *Store) GetOracle(ctx context.Context, address string) (oracle.Oracle, error) {
	var row oracleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, index_a, index_b, index_c, registered_at
		FROM surety_oracles
		WHERE address = $1
	`, address)
	if err != nil {
		return oracle.Oracle{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListOracles(ctx context.Context) ([]oracle.Oracle, error) {
	var rows []oracleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, index_a, index_b, index_c, registered_at
		FROM surety_oracles
		ORDER BY registered_at
	`)
	if err != nil {
		return nil, err
	}
	oracles := make([]oracle.Oracle, 0, len(rows))
	for _, row := range rows {
		oracles = append(oracles, row.toDomain())
	}
	return oracles, nil
}

type roundRow struct {
	FlightKey      string    `db:"flight_key"`
	RequestedIndex int16     `db:"requested_index"`
	State          string    `db:"state"`
	Responses      []byte    `db:"responses"`
	FinalStatus    int16     `db:"final_status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r roundRow) toDomain() (oracle.Round, error) {
	responses := make(map[string]flight.StatusCode)
	if len(r.Responses) > 0 {
		if err := json.Unmarshal(r.Responses, &responses); err != nil {
			return oracle.Round{}, fmt.Errorf("decode round responses: %w", err)
		}
	}
	return oracle.Round{
		FlightKey:      r.FlightKey,
		RequestedIndex: uint8(r.RequestedIndex),
		State:          oracle.RoundState(r.State),
		Responses:      responses,
		FinalStatus:    flight.StatusCode(r.FinalStatus),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func (s *Store) CreateRound(ctx context.Context, r oracle.Round) (oracle.Round, error) {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Responses == nil {
		r.Responses = make(map[string]flight.StatusCode)
	}
	responses, err := json.Marshal(r.Responses)
	if err != nil {
		return oracle.Round{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO surety_rounds (flight_key, requested_index, state, responses, final_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.FlightKey, int16(r.RequestedIndex), string(r.State), responses, int16(r.FinalStatus), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return oracle.Round{}, err
	}
	return r, nil
}

func (s *Store) UpdateRound(ctx context.Context, r oracle.Round) (oracle.Round, error) {
	r.UpdatedAt = time.Now().UTC()
	responses, err := json.Marshal(r.Responses)
	if err != nil {
		return oracle.Round{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE surety_rounds
		SET requested_index = $2, state = $3, responses = $4, final_status = $5, updated_at = $6
		WHERE flight_key = $1
	`, r.FlightKey, int16(r.RequestedIndex), string(r.State), responses, int16(r.FinalStatus), r.UpdatedAt)
	if err != nil {
		return oracle.Round{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return oracle.Round{}, sql.ErrNoRows
	}
	return r, nil
}

func (s *Store) GetRound(ctx context.Context, flightKey string) (oracle.Round, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT flight_key, requested_index, state, responses, final_status, created_at, updated_at
		FROM surety_rounds
		WHERE flight_key = $1
	`, flightKey)
	if err != nil {
		return oracle.Round{}, err
	}
	return row.toDomain()
}

func (s *Store) ListRounds(ctx context.Context, state oracle.RoundState) ([]oracle.Round, error) {
	var rows []roundRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT flight_key, requested_index, state, responses, final_status, created_at, updated_at
		FROM surety_rounds
		WHERE state = $1
		ORDER BY created_at
	`, string(state))
	if err != nil {
		return nil, err
	}
	rounds := make([]oracle.Round, 0, len(rows))
	for _, row := range rows {
		round, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}
