package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/config"
	"github.com/lvdashuaibi/electvote/internal/model"
)

const mysqlErrDuplicateEntry = 1062

// MySQLRepository MySQL存储，写主库读从库
type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
	logger   *zap.Logger
}

func NewMySQLRepository(cfg config.MySQLConfig, logger *zap.Logger) (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(cfg.MaxOpenConns)
	masterDB.SetMaxIdleConns(cfg.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		masterDB.Close()
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB := masterDB
	if cfg.Slave != "" {
		slaveDB, err = sql.Open("mysql", cfg.Slave)
		if err != nil {
			masterDB.Close()
			return nil, fmt.Errorf("连接从数据库失败: %w", err)
		}

		slaveDB.SetMaxOpenConns(cfg.MaxOpenConns)
		slaveDB.SetMaxIdleConns(cfg.MaxIdleConns)
		slaveDB.SetConnMaxLifetime(time.Hour)

		if err = slaveDB.Ping(); err != nil {
			logger.Warn("从数据库连接测试失败，将使用主数据库代替", zap.Error(err))
			slaveDB.Close()
			slaveDB = masterDB
		}
	}

	return NewMySQLRepositoryWithDB(masterDB, slaveDB, logger), nil
}

// NewMySQLRepositoryWithDB 使用已有连接创建，slave为nil时读写均走主库
func NewMySQLRepositoryWithDB(master, slave *sql.DB, logger *zap.Logger) *MySQLRepository {
	if slave == nil {
		slave = master
	}
	return &MySQLRepository{masterDB: master, slaveDB: slave, logger: logger}
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ---- 候选人 ----

const candidateColumns = "id, name, current_position, image_url, past_positions"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCandidate(row rowScanner) (*model.Candidate, error) {
	var c model.Candidate
	var past []byte
	if err := row.Scan(&c.ID, &c.Name, &c.CurrentPosition, &c.ImageURL, &past); err != nil {
		return nil, err
	}
	if len(past) > 0 {
		if err := json.Unmarshal(past, &c.PastPositions); err != nil {
			return nil, fmt.Errorf("解析历史职位失败: %w", err)
		}
	}
	return &c, nil
}

func (r *MySQLRepository) queryCandidates(ctx context.Context, query string, args ...interface{}) ([]*model.Candidate, error) {
	rows, err := r.slaveDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	defer rows.Close()

	var out []*model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描候选人失败: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代候选人失败: %w", err)
	}
	return out, nil
}

func (r *MySQLRepository) findCandidate(ctx context.Context, where string, arg interface{}) (*model.Candidate, bool, error) {
	row := r.slaveDB.QueryRowContext(ctx, "SELECT "+candidateColumns+" FROM candidates WHERE "+where, arg)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("查询候选人失败: %w", err)
	}
	return c, true, nil
}

func (r *MySQLRepository) ListCandidates(ctx context.Context) ([]*model.Candidate, error) {
	return r.queryCandidates(ctx, "SELECT "+candidateColumns+" FROM candidates ORDER BY name")
}

func (r *MySQLRepository) FindCandidateByID(ctx context.Context, id string) (*model.Candidate, bool, error) {
	return r.findCandidate(ctx, "id = ?", id)
}

func (r *MySQLRepository) FindCandidateByName(ctx context.Context, name string) (*model.Candidate, bool, error) {
	return r.findCandidate(ctx, "name = ?", name)
}

func (r *MySQLRepository) FindCandidatesByIDs(ctx context.Context, ids []string) ([]*model.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT " + candidateColumns + " FROM candidates WHERE id IN (" + placeholders(len(ids)) + ")"
	return r.queryCandidates(ctx, query, toArgs(ids)...)
}

func marshalPastPositions(p map[int]string) (interface{}, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *MySQLRepository) CreateCandidate(ctx context.Context, c *model.Candidate) error {
	past, err := marshalPastPositions(c.PastPositions)
	if err != nil {
		return fmt.Errorf("序列化历史职位失败: %w", err)
	}
	_, err = r.masterDB.ExecContext(ctx,
		"INSERT INTO candidates (id, name, current_position, image_url, past_positions) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.CurrentPosition, c.ImageURL, past)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("创建候选人失败: %w", err)
	}
	return nil
}

func (r *MySQLRepository) UpdateCandidate(ctx context.Context, c *model.Candidate) (bool, error) {
	result, err := r.masterDB.ExecContext(ctx,
		"UPDATE candidates SET name = ?, current_position = ?, image_url = ? WHERE id = ?",
		c.Name, c.CurrentPosition, c.ImageURL, c.ID)
	if err != nil {
		if isDuplicateEntry(err) {
			return true, ErrDuplicateKey
		}
		return false, fmt.Errorf("更新候选人失败: %w", err)
	}
	return r.affectedOrExists(ctx, result, "candidates", c.ID)
}

// affectedOrExists MySQL在值未变化时返回0行受影响，此时需要再确认记录是否存在
func (r *MySQLRepository) affectedOrExists(ctx context.Context, result sql.Result, table, id string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取更新结果失败: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = r.masterDB.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("确认记录是否存在失败: %w", err)
	}
	return true, nil
}

func (r *MySQLRepository) deleteByID(ctx context.Context, table, id string) (bool, error) {
	result, err := r.masterDB.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("删除%s记录失败: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取删除结果失败: %w", err)
	}
	return n > 0, nil
}

// DeleteCandidate 只删除不属于任何选举的候选人，已有的选票因此总能找到候选人
func (r *MySQLRepository) DeleteCandidate(ctx context.Context, id string) (bool, error) {
	result, err := r.masterDB.ExecContext(ctx,
		"DELETE FROM candidates WHERE id = ? AND NOT EXISTS (SELECT 1 FROM election_candidates WHERE candidate_id = ?)", id, id)
	if err != nil {
		return false, fmt.Errorf("删除候选人 %s 失败: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取删除结果失败: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var members int
	if err := r.masterDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM election_candidates WHERE candidate_id = ?", id).Scan(&members); err != nil {
		return false, fmt.Errorf("查询候选人 %s 所属选举失败: %w", id, err)
	}
	if members > 0 {
		return true, ErrInUse
	}
	return false, nil
}

func (r *MySQLRepository) SetPastPosition(ctx context.Context, id string, year int, position string) (bool, error) {
	path := fmt.Sprintf(`$."%d"`, year)
	result, err := r.masterDB.ExecContext(ctx,
		"UPDATE candidates SET past_positions = JSON_SET(COALESCE(past_positions, JSON_OBJECT()), ?, ?) WHERE id = ?",
		path, position, id)
	if err != nil {
		return false, fmt.Errorf("更新候选人 %s 历史职位失败: %w", id, err)
	}
	return r.affectedOrExists(ctx, result, "candidates", id)
}

// ---- 选民 ----

const voterColumns = "id, email, name"

func (r *MySQLRepository) queryVoters(ctx context.Context, query string, args ...interface{}) ([]*model.Voter, error) {
	rows, err := r.slaveDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询选民失败: %w", err)
	}
	defer rows.Close()

	var out []*model.Voter
	for rows.Next() {
		var v model.Voter
		if err := rows.Scan(&v.ID, &v.Email, &v.Name); err != nil {
			return nil, fmt.Errorf("扫描选民失败: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代选民失败: %w", err)
	}
	return out, nil
}

func (r *MySQLRepository) findVoter(ctx context.Context, where string, arg interface{}) (*model.Voter, bool, error) {
	var v model.Voter
	err := r.slaveDB.QueryRowContext(ctx, "SELECT "+voterColumns+" FROM voters WHERE "+where, arg).
		Scan(&v.ID, &v.Email, &v.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("查询选民失败: %w", err)
	}
	return &v, true, nil
}

func (r *MySQLRepository) ListVoters(ctx context.Context) ([]*model.Voter, error) {
	return r.queryVoters(ctx, "SELECT "+voterColumns+" FROM voters ORDER BY email")
}

func (r *MySQLRepository) FindVoterByID(ctx context.Context, id string) (*model.Voter, bool, error) {
	return r.findVoter(ctx, "id = ?", id)
}

func (r *MySQLRepository) FindVoterByEmail(ctx context.Context, email string) (*model.Voter, bool, error) {
	return r.findVoter(ctx, "email = ?", email)
}

func (r *MySQLRepository) FindVotersByIDs(ctx context.Context, ids []string) ([]*model.Voter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT " + voterColumns + " FROM voters WHERE id IN (" + placeholders(len(ids)) + ")"
	return r.queryVoters(ctx, query, toArgs(ids)...)
}

func (r *MySQLRepository) CreateVoter(ctx context.Context, v *model.Voter) error {
	_, err := r.masterDB.ExecContext(ctx, "INSERT INTO voters (id, email, name) VALUES (?, ?, ?)", v.ID, v.Email, v.Name)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("创建选民失败: %w", err)
	}
	return nil
}

func (r *MySQLRepository) UpdateVoter(ctx context.Context, v *model.Voter) (bool, error) {
	result, err := r.masterDB.ExecContext(ctx, "UPDATE voters SET email = ?, name = ? WHERE id = ?", v.Email, v.Name, v.ID)
	if err != nil {
		if isDuplicateEntry(err) {
			return true, ErrDuplicateKey
		}
		return false, fmt.Errorf("更新选民失败: %w", err)
	}
	return r.affectedOrExists(ctx, result, "voters", v.ID)
}

func (r *MySQLRepository) DeleteVoter(ctx context.Context, id string) (bool, error) {
	return r.deleteByID(ctx, "voters", id)
}

// ---- 选举 ----

func (r *MySQLRepository) CreateElection(ctx context.Context, e *model.Election) error {
	tx, err := r.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO elections (id, start_date, end_date, start_job_id, end_job_id) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.StartDate.UTC(), e.EndDate.UTC(), e.StartJobID, e.EndJobID)
	if err != nil {
		tx.Rollback()
		if isDuplicateEntry(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("创建选举失败: %w", err)
	}

	if err := insertMembers(ctx, tx, e.ID, e.CandidateIDs, e.VoterIDs); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func insertMembers(ctx context.Context, tx *sql.Tx, electionID string, candidateIDs, voterIDs []string) error {
	for _, id := range mergeIDs(nil, candidateIDs) {
		if _, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO election_candidates (election_id, candidate_id) VALUES (?, ?)", electionID, id); err != nil {
			return fmt.Errorf("写入选举候选人 %s 失败: %w", id, err)
		}
	}
	for _, id := range mergeIDs(nil, voterIDs) {
		if _, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO election_voters (election_id, voter_id) VALUES (?, ?)", electionID, id); err != nil {
			return fmt.Errorf("写入选举选民 %s 失败: %w", id, err)
		}
	}
	return nil
}

const electionColumns = "id, start_date, end_date, start_job_id, end_job_id"

func (r *MySQLRepository) findElection(ctx context.Context, db *sql.DB, query string, args ...interface{}) (*model.Election, bool, error) {
	var e model.Election
	err := db.QueryRowContext(ctx, query, args...).
		Scan(&e.ID, &e.StartDate, &e.EndDate, &e.StartJobID, &e.EndJobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("查询选举失败: %w", err)
	}

	if e.CandidateIDs, err = r.loadMemberIDs(ctx, db, "SELECT candidate_id FROM election_candidates WHERE election_id = ? ORDER BY position_idx", e.ID); err != nil {
		return nil, false, err
	}
	if e.VoterIDs, err = r.loadMemberIDs(ctx, db, "SELECT voter_id FROM election_voters WHERE election_id = ? ORDER BY position_idx", e.ID); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (r *MySQLRepository) loadMemberIDs(ctx context.Context, db *sql.DB, query, electionID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("查询选举成员失败: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("扫描选举成员失败: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代选举成员失败: %w", err)
	}
	return ids, nil
}

func (r *MySQLRepository) FindElectionByID(ctx context.Context, id string) (*model.Election, bool, error) {
	return r.findElection(ctx, r.slaveDB, "SELECT "+electionColumns+" FROM elections WHERE id = ?", id)
}

// FindLatestElection 投票和令牌校验依赖最新选举，读主库避免复制延迟
func (r *MySQLRepository) FindLatestElection(ctx context.Context) (*model.Election, bool, error) {
	return r.findElection(ctx, r.masterDB, "SELECT "+electionColumns+" FROM elections ORDER BY start_date DESC LIMIT 1")
}

func (r *MySQLRepository) FindElectionStartingIn(ctx context.Context, from, to time.Time) (*model.Election, bool, error) {
	return r.findElection(ctx, r.slaveDB,
		"SELECT "+electionColumns+" FROM elections WHERE start_date >= ? AND start_date < ? ORDER BY start_date LIMIT 1",
		from.UTC(), to.UTC())
}

func (r *MySQLRepository) FindActiveElection(ctx context.Context, now time.Time) (*model.Election, bool, error) {
	return r.findElection(ctx, r.slaveDB,
		"SELECT "+electionColumns+" FROM elections WHERE start_date <= ? AND end_date >= ? ORDER BY start_date DESC LIMIT 1",
		now.UTC(), now.UTC())
}

func (r *MySQLRepository) UpdateElectionDates(ctx context.Context, id string, start, end time.Time) (bool, error) {
	result, err := r.masterDB.ExecContext(ctx,
		"UPDATE elections SET start_date = ?, end_date = ? WHERE id = ?", start.UTC(), end.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("更新选举日期失败: %w", err)
	}
	return r.affectedOrExists(ctx, result, "elections", id)
}

func (r *MySQLRepository) SetTriggerJobID(ctx context.Context, id string, boundary model.TriggerBoundary, jobID string) error {
	column := "end_job_id"
	if boundary == model.BoundaryStart {
		column = "start_job_id"
	}
	if _, err := r.masterDB.ExecContext(ctx, "UPDATE elections SET "+column+" = ? WHERE id = ?", jobID, id); err != nil {
		return fmt.Errorf("保存触发器id失败: %w", err)
	}
	return nil
}

func (r *MySQLRepository) AddElectionMembers(ctx context.Context, id string, candidateIDs, voterIDs []string) error {
	if len(candidateIDs) == 0 && len(voterIDs) == 0 {
		return nil
	}
	tx, err := r.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	if err := insertMembers(ctx, tx, id, candidateIDs, voterIDs); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func (r *MySQLRepository) RemoveElectionMembers(ctx context.Context, id string, candidateIDs, voterIDs []string) error {
	if len(candidateIDs) > 0 {
		query := "DELETE FROM election_candidates WHERE election_id = ? AND candidate_id IN (" + placeholders(len(candidateIDs)) + ")"
		if _, err := r.masterDB.ExecContext(ctx, query, append([]interface{}{id}, toArgs(candidateIDs)...)...); err != nil {
			return fmt.Errorf("移除选举候选人失败: %w", err)
		}
	}
	if len(voterIDs) > 0 {
		query := "DELETE FROM election_voters WHERE election_id = ? AND voter_id IN (" + placeholders(len(voterIDs)) + ")"
		if _, err := r.masterDB.ExecContext(ctx, query, append([]interface{}{id}, toArgs(voterIDs)...)...); err != nil {
			return fmt.Errorf("移除选举选民失败: %w", err)
		}
	}
	return nil
}

func (r *MySQLRepository) DeleteElection(ctx context.Context, id string) (bool, error) {
	tx, err := r.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("开始事务失败: %w", err)
	}

	for _, query := range []string{
		"DELETE FROM votes WHERE election_id = ?",
		"DELETE FROM election_candidates WHERE election_id = ?",
		"DELETE FROM election_voters WHERE election_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			tx.Rollback()
			return false, fmt.Errorf("删除选举关联数据失败: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM elections WHERE id = ?", id)
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("删除选举失败: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("获取删除结果失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("提交事务失败: %w", err)
	}
	return n > 0, nil
}

// ---- 选票 ----

func (r *MySQLRepository) AppendVote(ctx context.Context, electionID string, v *model.Vote) error {
	_, err := r.masterDB.ExecContext(ctx,
		"INSERT INTO votes (id, election_id, voter_id, candidate_id, position, cast_at) VALUES (?, ?, ?, ?, ?, ?)",
		v.ID, electionID, v.VoterID, v.CandidateID, v.Position, v.CastAt.UTC())
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateVote
		}
		return fmt.Errorf("记录选票失败: %w", err)
	}
	return nil
}

func (r *MySQLRepository) queryVotes(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]model.Vote, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询选票失败: %w", err)
	}
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.ID, &v.VoterID, &v.CandidateID, &v.Position, &v.CastAt); err != nil {
			return nil, fmt.Errorf("扫描选票失败: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代选票失败: %w", err)
	}
	return out, nil
}

func (r *MySQLRepository) ListVotes(ctx context.Context, electionID string) ([]model.Vote, error) {
	return r.queryVotes(ctx, r.slaveDB,
		"SELECT id, voter_id, candidate_id, position, cast_at FROM votes WHERE election_id = ? ORDER BY seq", electionID)
}

// ListVotesByVoter 投票前的重复检查读主库
func (r *MySQLRepository) ListVotesByVoter(ctx context.Context, electionID, voterID string) ([]model.Vote, error) {
	return r.queryVotes(ctx, r.masterDB,
		"SELECT id, voter_id, candidate_id, position, cast_at FROM votes WHERE election_id = ? AND voter_id = ? ORDER BY seq",
		electionID, voterID)
}

func (r *MySQLRepository) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	var one int
	err := r.slaveDB.QueryRowContext(ctx,
		"SELECT 1 FROM votes WHERE election_id = ? AND voter_id = ? LIMIT 1", electionID, voterID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询投票记录失败: %w", err)
	}
	return true, nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() error {
	var err error
	if r.masterDB != nil {
		err = multierr.Append(err, r.masterDB.Close())
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		err = multierr.Append(err, r.slaveDB.Close())
	}
	return err
}
