package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// --- Profiles ---

const userColumns = `id, chat_id, first_name, last_name, username, language,
	birth_date, birth_time_m, birth_place, tz, approximate,
	notify_opt_in, blocked, erased, entitlements,
	advice_eligible_at, last_seen_at, created_at`

// UpsertUser inserts or updates a user profile keyed by chat_id.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	created := u.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			first_name         = excluded.first_name,
			last_name          = excluded.last_name,
			username           = excluded.username,
			language           = excluded.language,
			birth_date         = excluded.birth_date,
			birth_time_m       = excluded.birth_time_m,
			birth_place        = excluded.birth_place,
			tz                 = excluded.tz,
			approximate        = excluded.approximate,
			notify_opt_in      = excluded.notify_opt_in,
			blocked            = excluded.blocked,
			erased             = excluded.erased,
			entitlements       = excluded.entitlements,
			advice_eligible_at = excluded.advice_eligible_at,
			last_seen_at       = excluded.last_seen_at`,
		u.ID.String(), u.ChatID, u.FirstName, u.LastName, u.Username, u.Language,
		toNullInt64(u.BirthDate), toNullInt(u.BirthTime), u.BirthPlace, u.TZ,
		boolToInt(u.ApproximateBirth), boolToInt(u.NotifyOptIn),
		boolToInt(u.Blocked), boolToInt(u.Erased), encodeEntitlements(u.Entitlements),
		toNullInt64(u.AdviceEligibleAt), toNullInt64(u.LastSeenAt), created.Unix(),
	)
	return err
}

func (r *SQLiteRepo) GetUserByChat(ctx context.Context, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID)
	return scanUser(row)
}

func (r *SQLiteRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

// ListActiveUsers returns one page of onboarded, opted-in, non-blocked
// profiles for scheduler sweeps, keyset-paginated by chat_id.
func (r *SQLiteRepo) ListActiveUsers(ctx context.Context, afterChatID int64, limit int) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE notify_opt_in = 1 AND blocked = 0 AND erased = 0
		  AND birth_date IS NOT NULL
		  AND chat_id > ?
		ORDER BY chat_id ASC
		LIMIT ?`, afterChatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

func (r *SQLiteRepo) SetBlocked(ctx context.Context, chatID int64, blocked bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET blocked = ? WHERE chat_id = ?`, boolToInt(blocked), chatID)
	return err
}

func (r *SQLiteRepo) SetEntitlement(ctx context.Context, chatID int64, f domain.Feature, on bool) error {
	u, err := r.GetUserByChat(ctx, chatID)
	if err != nil {
		return err
	}
	if u.Entitlements == nil {
		u.Entitlements = make(map[domain.Feature]bool)
	}
	if on {
		u.Entitlements[f] = true
	} else {
		delete(u.Entitlements, f)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE users SET entitlements = ? WHERE chat_id = ?`,
		encodeEntitlements(u.Entitlements), chatID)
	return err
}

// EraseUser tombstones a profile: PII columns are scrubbed in place and
// the erased flag set. Artifacts and request history keep their rows but
// no longer reference any personal data.
func (r *SQLiteRepo) EraseUser(ctx context.Context, chatID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			first_name = '', last_name = '', username = '',
			birth_date = NULL, birth_time_m = NULL, birth_place = '',
			notify_opt_in = 0, erased = 1
		WHERE chat_id = ?`, chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		id, firstName, lastName, username, language string
		birthPlace, tz, ents                        string
		chatID, createdAt                           int64
		approx, optIn, blocked, erased              int
		birthDate, adviceAt, lastSeen               sql.NullInt64
		birthTime                                   sql.NullInt64
	)
	err := row.Scan(
		&id, &chatID, &firstName, &lastName, &username, &language,
		&birthDate, &birthTime, &birthPlace, &tz, &approx,
		&optIn, &blocked, &erased, &ents,
		&adviceAt, &lastSeen, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", id, err)
	}
	return &domain.User{
		ID:               uid,
		ChatID:           chatID,
		FirstName:        firstName,
		LastName:         lastName,
		Username:         username,
		Language:         language,
		BirthDate:        fromNullInt64(birthDate),
		BirthTime:        fromNullInt(birthTime),
		BirthPlace:       birthPlace,
		TZ:               tz,
		ApproximateBirth: approx != 0,
		NotifyOptIn:      optIn != 0,
		Blocked:          blocked != 0,
		Erased:           erased != 0,
		Entitlements:     decodeEntitlements(ents),
		AdviceEligibleAt: fromNullInt64(adviceAt),
		LastSeenAt:       fromNullInt64(lastSeen),
		CreatedAt:        time.Unix(createdAt, 0).UTC(),
	}, nil
}

func encodeEntitlements(m map[domain.Feature]bool) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for f, on := range m {
		if on {
			keys = append(keys, string(f))
		}
	}
	return strings.Join(keys, ",")
}

func decodeEntitlements(s string) map[domain.Feature]bool {
	if s == "" {
		return nil
	}
	m := make(map[domain.Feature]bool)
	for _, k := range strings.Split(s, ",") {
		if k != "" {
			m[domain.Feature(k)] = true
		}
	}
	return m
}

// --- Sessions ---

func (r *SQLiteRepo) GetSession(ctx context.Context, chatID int64) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT chat_id, state, pending_birth_date, last_transition
		FROM sessions WHERE chat_id = ?`, chatID)

	var (
		s    domain.Session
		st   string
		last int64
	)
	err := row.Scan(&s.ChatID, &st, &s.PendingBirthDate, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.State = domain.DialogState(st)
	s.LastTransition = time.Unix(last, 0).UTC()
	return &s, nil
}

func (r *SQLiteRepo) SaveSession(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (chat_id, state, pending_birth_date, last_transition)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			state              = excluded.state,
			pending_birth_date = excluded.pending_birth_date,
			last_transition    = excluded.last_transition`,
		s.ChatID, string(s.State), s.PendingBirthDate, s.LastTransition.UTC().Unix(),
	)
	return err
}

// --- Artifacts ---

// InsertArtifact persists an artifact under the (user, kind, day)
// uniqueness key. A lost race returns ErrConflict; the caller re-reads
// the winner instead of overwriting it.
func (r *SQLiteRepo) InsertArtifact(ctx context.Context, a *domain.Artifact) error {
	if a == nil {
		return errors.New("nil artifact")
	}
	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, user_id, kind, day, content, context_snapshot, approximate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind, day) DO NOTHING`,
		a.ID.String(), a.UserID.String(), string(a.Kind), string(a.Day),
		string(content), a.ContextSnapshot, boolToInt(a.Approximate),
		a.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLiteRepo) GetArtifact(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, day, content, context_snapshot, approximate, created_at
		FROM artifacts
		WHERE user_id = ? AND kind = ? AND day = ?`,
		userID.String(), string(kind), string(day))
	return scanArtifact(row)
}

func (r *SQLiteRepo) ListArtifacts(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, day, content, context_snapshot, approximate, created_at
		FROM artifacts
		WHERE user_id = ?
		ORDER BY day DESC, kind ASC
		LIMIT ?`, userID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *a)
	}
	return res, rows.Err()
}

func scanArtifact(row rowScanner) (*domain.Artifact, error) {
	var (
		id, userID, kind, day, content, snapshot string
		approx                                   int
		createdAt                                int64
	)
	err := row.Scan(&id, &userID, &kind, &day, &content, &snapshot, &approx, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	aid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad artifact id %q: %w", id, err)
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", userID, err)
	}
	var c domain.Content
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &domain.Artifact{
		ID:              aid,
		UserID:          uid,
		Kind:            domain.Kind(kind),
		Day:             domain.Day(day),
		Content:         c,
		ContextSnapshot: snapshot,
		Approximate:     approx != 0,
		CreatedAt:       time.Unix(createdAt, 0).UTC(),
	}, nil
}

// --- Emergency advice ---

// ReserveAdviceSlot moves the eligibility gate with compare-and-swap
// semantics: the UPDATE is guarded on the gate still holding prev, so
// two concurrent submits cannot both reserve the same window.
func (r *SQLiteRepo) ReserveAdviceSlot(ctx context.Context, userID uuid.UUID, prev *time.Time, next time.Time) error {
	prevNS := toNullInt64(prev)
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET advice_eligible_at = ?
		WHERE id = ?
		  AND ((advice_eligible_at IS NULL AND ? IS NULL) OR advice_eligible_at = ?)`,
		next.UTC().Unix(), userID.String(), prevNS, prevNS,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLiteRepo) CreateEmergencyRequest(ctx context.Context, req *domain.EmergencyRequest) error {
	if req == nil {
		return errors.New("nil request")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emergency_requests (id, user_id, question, answer, status, asked_at, next_eligible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID.String(), req.UserID.String(), req.Question, req.Answer,
		string(req.Status), req.AskedAt.UTC().Unix(), req.NextEligibleAt.UTC().Unix(),
	)
	return err
}

func (r *SQLiteRepo) ResolveEmergencyRequest(ctx context.Context, id uuid.UUID, status domain.RequestStatus, answer string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE emergency_requests SET status = ?, answer = ? WHERE id = ?`,
		string(status), answer, id.String())
	return err
}

// --- Notification intents ---

// InsertIntent creates an intent under the (user, type, day, attempt)
// uniqueness key; ErrConflict makes scheduler sweeps idempotent.
func (r *SQLiteRepo) InsertIntent(ctx context.Context, it *domain.Intent) error {
	if it == nil {
		return errors.New("nil intent")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO intents (id, user_id, chat_id, type, day, payload, attempt, status, scheduled_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, type, day, attempt) DO NOTHING`,
		it.ID.String(), it.UserID.String(), it.ChatID, string(it.Type), string(it.Day),
		it.Payload, it.Attempt, string(it.Status), it.ScheduledAt.UTC().Unix(),
		toNullInt64(it.SentAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListDueIntents returns scheduled intents whose scheduled_at is <= now,
// ordered by scheduled_at ascending.
func (r *SQLiteRepo) ListDueIntents(ctx context.Context, now time.Time, limit int) ([]domain.Intent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, chat_id, type, day, payload, attempt, status, scheduled_at, sent_at
		FROM intents
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT ?`,
		string(domain.IntentScheduled), now.UTC().Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Intent
	for rows.Next() {
		var (
			id, userID, typ, day, payload, status string
			chatID, scheduledAt                   int64
			attempt                               int
			sentNS                                sql.NullInt64
		)
		if err := rows.Scan(&id, &userID, &chatID, &typ, &day, &payload, &attempt, &status, &scheduledAt, &sentNS); err != nil {
			return nil, err
		}
		iid, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad intent id %q: %w", id, err)
		}
		uid, err := uuid.Parse(userID)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q: %w", userID, err)
		}
		res = append(res, domain.Intent{
			ID:          iid,
			UserID:      uid,
			ChatID:      chatID,
			Type:        domain.IntentType(typ),
			Day:         domain.Day(day),
			Payload:     payload,
			Attempt:     attempt,
			Status:      domain.IntentStatus(status),
			ScheduledAt: time.Unix(scheduledAt, 0).UTC(),
			SentAt:      fromNullInt64(sentNS),
		})
	}
	return res, rows.Err()
}

func (r *SQLiteRepo) MarkIntentSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE intents SET status = ?, sent_at = ? WHERE id = ?`,
		string(domain.IntentSent), at.UTC().Unix(), id.String())
	return err
}

func (r *SQLiteRepo) MarkIntent(ctx context.Context, id uuid.UUID, status domain.IntentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE intents SET status = ? WHERE id = ?`,
		string(status), id.String())
	return err
}
