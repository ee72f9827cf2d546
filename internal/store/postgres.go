package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"wager/internal/domain"
)

const pgUniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the Store backed by PostgreSQL. Row locks (SELECT ... FOR
// UPDATE) serialise concurrent writers on the same wallet, game or bet.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Storage(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Storage(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var s string
	err := p.pool.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE user_id = $1`, userID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, domain.Storage(fmt.Errorf("select balance: %w", err))
	}
	return parseDecimal(s)
}

func (p *Postgres) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, amount::text, balance_after::text, category, COALESCE(bet_id, ''), note, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select entries: %w", err))
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e             domain.LedgerEntry
			amount, after string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &amount, &after, &e.Category, &e.BetID, &e.Note, &e.CreatedAt); err != nil {
			return nil, domain.Storage(fmt.Errorf("scan entry: %w", err))
		}
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = parseDecimal(after); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, wrapRowsErr(rows.Err())
}

func (p *Postgres) Game(ctx context.Context, id string) (*domain.Game, error) {
	return selectGame(ctx, p.pool, id, "")
}

func (p *Postgres) Games(ctx context.Context, status domain.GameStatus) ([]*domain.Game, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+gameColumns+` FROM games
		WHERE $1 = '' OR status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select games: %w", err))
	}
	defer rows.Close()

	var out []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, wrapRowsErr(rows.Err())
}

func (p *Postgres) CreateGame(ctx context.Context, g *domain.Game) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO games (id, home_team, away_team, status, result, odds_home, odds_draw, odds_away, starts_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, now())`,
		g.ID, g.HomeTeam, g.AwayTeam, string(g.Status), outcomePtr(g.Result),
		g.Odds.Home.String(), g.Odds.Draw.String(), g.Odds.Away.String(), nullableTime(g.StartsAt))
	if isUniqueViolation(err) {
		return domain.ErrInvalidRequest.Withf("game %s already exists", g.ID)
	}
	if err != nil {
		return domain.Storage(fmt.Errorf("insert game: %w", err))
	}
	return nil
}

func (p *Postgres) UpdateGameOdds(ctx context.Context, id string, odds domain.Odds) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE games SET odds_home = $2::numeric, odds_draw = $3::numeric, odds_away = $4::numeric, updated_at = now()
		WHERE id = $1`, id, odds.Home.String(), odds.Draw.String(), odds.Away.String())
	if err != nil {
		return domain.Storage(fmt.Errorf("update odds: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound.Withf("game %s not found", id)
	}
	return nil
}

func (p *Postgres) Bet(ctx context.Context, id string) (*domain.Bet, error) {
	return selectBet(ctx, p.pool, id, false)
}

func (p *Postgres) UserBets(ctx context.Context, userID string, limit int) ([]*domain.Bet, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `SELECT id FROM bets WHERE user_id = $1 ORDER BY placed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select user bets: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("collect user bets: %w", err))
	}
	out := make([]*domain.Bet, 0, len(ids))
	for _, id := range ids {
		b, err := selectBet(ctx, p.pool, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *Postgres) PendingBetIDs(ctx context.Context, gameID string, kind domain.BetKind) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT b.id FROM bets b
		JOIN bet_selections s ON s.bet_id = b.id
		WHERE s.game_id = $1 AND b.kind = $2 AND b.status = 'pending'
		ORDER BY b.placed_at, b.id`, gameID, string(kind))
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select pending bets: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("collect pending bets: %w", err))
	}
	return ids, nil
}

func (p *Postgres) GamesAwaitingSettlement(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT g.id FROM games g
		JOIN bet_selections s ON s.game_id = g.id
		JOIN bets b ON b.id = s.bet_id
		WHERE b.status = 'pending' AND g.status IN ('finished', 'cancelled')
		ORDER BY g.id`)
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select unsettled games: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("collect unsettled games: %w", err))
	}
	return ids, nil
}

func (p *Postgres) CrashRound(ctx context.Context, id string) (*domain.CrashRound, error) {
	r, err := scanRound(p.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM crash_rounds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound.Withf("round %s not found", id)
	}
	return r, err
}

func (p *Postgres) RecentCrashRounds(ctx context.Context, limit int) ([]*domain.CrashRound, error) {
	if limit <= 0 {
		limit = 20
	}
	return p.queryRounds(ctx, `SELECT `+roundColumns+` FROM crash_rounds ORDER BY created_at DESC LIMIT $1`, limit)
}

func (p *Postgres) OpenCrashRounds(ctx context.Context) ([]*domain.CrashRound, error) {
	return p.queryRounds(ctx, `SELECT `+roundColumns+` FROM crash_rounds WHERE phase <> 'crashed' ORDER BY created_at`)
}

func (p *Postgres) queryRounds(ctx context.Context, sql string, args ...any) ([]*domain.CrashRound, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select rounds: %w", err))
	}
	defer rows.Close()

	var out []*domain.CrashRound
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, wrapRowsErr(rows.Err())
}

func (p *Postgres) CrashBets(ctx context.Context, roundID string) ([]*domain.CrashBet, error) {
	return queryCrashBets(ctx, p.pool, `SELECT `+crashBetColumns+` FROM crash_bets WHERE round_id = $1 ORDER BY placed_at`, roundID)
}

type pgTx struct {
	q querier
}

func (t *pgTx) LockWallet(ctx context.Context, userID string) (decimal.Decimal, error) {
	if _, err := t.q.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return decimal.Zero, domain.Storage(fmt.Errorf("ensure wallet: %w", err))
	}
	var s string
	if err := t.q.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&s); err != nil {
		return decimal.Zero, domain.Storage(fmt.Errorf("lock wallet: %w", err))
	}
	return parseDecimal(s)
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	_, err := t.q.Exec(ctx, `UPDATE wallets SET balance = $2::numeric, updated_at = now() WHERE user_id = $1`, userID, balance.String())
	if err != nil {
		return domain.Storage(fmt.Errorf("update balance: %w", err))
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, amount, balance_after, category, bet_id, note, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, NULLIF($6, ''), $7, $8)`,
		e.ID, e.UserID, e.Amount.String(), e.BalanceAfter.String(), string(e.Category), e.BetID, e.Note, e.CreatedAt)
	if err != nil {
		return domain.Storage(fmt.Errorf("insert ledger entry: %w", err))
	}
	return nil
}

func (t *pgTx) LockGame(ctx context.Context, id string) (*domain.Game, error) {
	return selectGame(ctx, t.q, id, " FOR UPDATE")
}

// Game takes a share lock so a result cannot be written underneath a
// placement or a multi-bet leg check.
func (t *pgTx) Game(ctx context.Context, id string) (*domain.Game, error) {
	return selectGame(ctx, t.q, id, " FOR SHARE")
}

func (t *pgTx) UpdateGame(ctx context.Context, g *domain.Game) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE games SET status = $2, result = $3, odds_home = $4::numeric, odds_draw = $5::numeric,
			odds_away = $6::numeric, starts_at = $7, updated_at = now()
		WHERE id = $1`,
		g.ID, string(g.Status), outcomePtr(g.Result), g.Odds.Home.String(), g.Odds.Draw.String(),
		g.Odds.Away.String(), nullableTime(g.StartsAt))
	if err != nil {
		return domain.Storage(fmt.Errorf("update game: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound.Withf("game %s not found", g.ID)
	}
	return nil
}

func (t *pgTx) InsertBet(ctx context.Context, b *domain.Bet) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bets (id, user_id, kind, stake, combined_odds, status, payout, placed_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8)`,
		b.ID, b.UserID, string(b.Kind()), b.Stake.String(), b.CombinedOdds.String(),
		string(b.Status), b.Payout.String(), b.PlacedAt)
	if err != nil {
		return domain.Storage(fmt.Errorf("insert bet: %w", err))
	}
	for i, sel := range b.Slip.Selections() {
		_, err := t.q.Exec(ctx, `
			INSERT INTO bet_selections (bet_id, position, game_id, outcome, odds)
			VALUES ($1, $2, $3, $4, $5::numeric)`,
			b.ID, i, sel.GameID, string(sel.Outcome), sel.Odds.String())
		if isUniqueViolation(err) {
			return domain.ErrDuplicateGameInSlip
		}
		if err != nil {
			return domain.Storage(fmt.Errorf("insert selection: %w", err))
		}
	}
	return nil
}

func (t *pgTx) LockBet(ctx context.Context, id string) (*domain.Bet, error) {
	return selectBet(ctx, t.q, id, true)
}

func (t *pgTx) FinalizeBet(ctx context.Context, id string, status domain.BetStatus, payout decimal.Decimal, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE bets SET status = $2, payout = $3::numeric, settled_at = $4
		WHERE id = $1 AND status = 'pending'`, id, string(status), payout.String(), at)
	if err != nil {
		return false, domain.Storage(fmt.Errorf("finalize bet: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertCrashRound(ctx context.Context, r *domain.CrashRound) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO crash_rounds (id, nonce, server_seed, salt, public_hash, crash_multiplier, phase, created_at, started_at, crashed_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)`,
		r.ID, r.Nonce, r.ServerSeed, r.Salt, r.PublicHash, r.CrashMultiplier.String(),
		string(r.Phase), r.CreatedAt, r.StartedAt, r.CrashedAt)
	if err != nil {
		return domain.Storage(fmt.Errorf("insert round: %w", err))
	}
	return nil
}

func (t *pgTx) UpdateCrashRound(ctx context.Context, r *domain.CrashRound, from domain.RoundPhase) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE crash_rounds SET phase = $2, started_at = $3, crashed_at = $4
		WHERE id = $1 AND phase = $5`,
		r.ID, string(r.Phase), r.StartedAt, r.CrashedAt, string(from))
	if err != nil {
		return false, domain.Storage(fmt.Errorf("update round: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertCrashBet(ctx context.Context, b *domain.CrashBet) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO crash_bets (id, round_id, user_id, stake, auto_cash_out_at, status, payout, placed_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8)`,
		b.ID, b.RoundID, b.UserID, b.Stake.String(), decimalPtr(b.AutoCashOutAt),
		string(b.Status), b.Payout.String(), b.PlacedAt)
	if isUniqueViolation(err) {
		return domain.ErrBetAlreadyPlaced
	}
	if err != nil {
		return domain.Storage(fmt.Errorf("insert crash bet: %w", err))
	}
	return nil
}

func (t *pgTx) ResolveCrashBet(ctx context.Context, id string, status domain.BetStatus, cashOutAt *decimal.Decimal, payout decimal.Decimal, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE crash_bets SET status = $2, cash_out_at = $3::numeric, payout = $4::numeric, resolved_at = $5
		WHERE id = $1 AND status = 'pending'`, id, string(status), decimalPtr(cashOutAt), payout.String(), at)
	if err != nil {
		return false, domain.Storage(fmt.Errorf("resolve crash bet: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) LoseCrashBets(ctx context.Context, roundID string, at time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE crash_bets SET status = 'lost', payout = 0, resolved_at = $2
		WHERE round_id = $1 AND status = 'pending'`, roundID, at)
	if err != nil {
		return 0, domain.Storage(fmt.Errorf("lose crash bets: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) PendingCrashBets(ctx context.Context, roundID string) ([]*domain.CrashBet, error) {
	return queryCrashBets(ctx, t.q, `SELECT `+crashBetColumns+` FROM crash_bets
		WHERE round_id = $1 AND status = 'pending' ORDER BY placed_at FOR UPDATE`, roundID)
}

const gameColumns = `id, home_team, away_team, status, result, odds_home::text, odds_draw::text, odds_away::text, starts_at, updated_at`

func selectGame(ctx context.Context, q querier, id string, lockClause string) (*domain.Game, error) {
	sql := `SELECT ` + gameColumns + ` FROM games WHERE id = $1` + lockClause
	g, err := scanGame(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound.Withf("game %s not found", id)
	}
	return g, err
}

func scanGame(row pgx.Row) (*domain.Game, error) {
	var (
		g                domain.Game
		status           string
		result           *string
		home, draw, away string
		startsAt         *time.Time
	)
	err := row.Scan(&g.ID, &g.HomeTeam, &g.AwayTeam, &status, &result, &home, &draw, &away, &startsAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("scan game: %w", err))
	}
	g.Status = domain.GameStatus(status)
	if result != nil {
		o := domain.Outcome(*result)
		g.Result = &o
	}
	if startsAt != nil {
		g.StartsAt = *startsAt
	}
	if g.Odds.Home, err = parseDecimal(home); err != nil {
		return nil, err
	}
	if g.Odds.Draw, err = parseDecimal(draw); err != nil {
		return nil, err
	}
	if g.Odds.Away, err = parseDecimal(away); err != nil {
		return nil, err
	}
	return &g, nil
}

func selectBet(ctx context.Context, q querier, id string, lock bool) (*domain.Bet, error) {
	sql := `SELECT id, user_id, kind, stake::text, combined_odds::text, status, payout::text, placed_at, settled_at
		FROM bets WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		b                   domain.Bet
		kind, status        string
		stake, odds, payout string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&b.ID, &b.UserID, &kind, &stake, &odds, &status, &payout, &b.PlacedAt, &b.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound.Withf("bet %s not found", id)
	}
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select bet: %w", err))
	}
	b.Status = domain.BetStatus(status)
	if b.Stake, err = parseDecimal(stake); err != nil {
		return nil, err
	}
	if b.CombinedOdds, err = parseDecimal(odds); err != nil {
		return nil, err
	}
	if b.Payout, err = parseDecimal(payout); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT game_id, outcome, odds::text FROM bet_selections WHERE bet_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select selections: %w", err))
	}
	defer rows.Close()

	var sels []domain.Selection
	for rows.Next() {
		var (
			sel              domain.Selection
			outcome, selOdds string
		)
		if err := rows.Scan(&sel.GameID, &outcome, &selOdds); err != nil {
			return nil, domain.Storage(fmt.Errorf("scan selection: %w", err))
		}
		sel.Outcome = domain.Outcome(outcome)
		if sel.Odds, err = parseDecimal(selOdds); err != nil {
			return nil, err
		}
		sels = append(sels, sel)
	}
	if err := wrapRowsErr(rows.Err()); err != nil {
		return nil, err
	}
	b.Slip = domain.SlipFrom(domain.BetKind(kind), sels)
	return &b, nil
}

const roundColumns = `id, nonce, server_seed, salt, public_hash, crash_multiplier::text, phase, created_at, started_at, crashed_at`

func scanRound(row pgx.Row) (*domain.CrashRound, error) {
	var (
		r            domain.CrashRound
		crash, phase string
	)
	err := row.Scan(&r.ID, &r.Nonce, &r.ServerSeed, &r.Salt, &r.PublicHash, &crash, &phase, &r.CreatedAt, &r.StartedAt, &r.CrashedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("scan round: %w", err))
	}
	r.Phase = domain.RoundPhase(phase)
	if r.CrashMultiplier, err = parseDecimal(crash); err != nil {
		return nil, err
	}
	return &r, nil
}

const crashBetColumns = `id, round_id, user_id, stake::text, auto_cash_out_at::text, status, cash_out_at::text, payout::text, placed_at, resolved_at`

func queryCrashBets(ctx context.Context, q querier, sql string, args ...any) ([]*domain.CrashBet, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.Storage(fmt.Errorf("select crash bets: %w", err))
	}
	defer rows.Close()

	var out []*domain.CrashBet
	for rows.Next() {
		var (
			b               domain.CrashBet
			stake, payout   string
			status          string
			auto, cashOutAt *string
		)
		if err := rows.Scan(&b.ID, &b.RoundID, &b.UserID, &stake, &auto, &status, &cashOutAt, &payout, &b.PlacedAt, &b.ResolvedAt); err != nil {
			return nil, domain.Storage(fmt.Errorf("scan crash bet: %w", err))
		}
		b.Status = domain.BetStatus(status)
		if b.Stake, err = parseDecimal(stake); err != nil {
			return nil, err
		}
		if b.Payout, err = parseDecimal(payout); err != nil {
			return nil, err
		}
		if b.AutoCashOutAt, err = parseDecimalPtr(auto); err != nil {
			return nil, err
		}
		if b.CashOutAt, err = parseDecimalPtr(cashOutAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, wrapRowsErr(rows.Err())
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.Storage(fmt.Errorf("parse numeric %q: %w", s, err))
	}
	return d, nil
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func outcomePtr(o *domain.Outcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func wrapRowsErr(err error) error {
	if err != nil {
		return domain.Storage(fmt.Errorf("iterate rows: %w", err))
	}
	return nil
}
