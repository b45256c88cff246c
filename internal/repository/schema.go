package repository

import (
	"context"
	"fmt"
)

// schemaStatements 建表语句，逐条执行
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS candidates (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		current_position VARCHAR(255) NOT NULL,
		image_url VARCHAR(1024) NOT NULL DEFAULT '',
		past_positions JSON NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uk_candidates_name (name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS voters (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		email VARCHAR(320) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uk_voters_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS elections (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		start_date DATETIME(3) NOT NULL,
		end_date DATETIME(3) NOT NULL,
		start_job_id VARCHAR(64) NOT NULL DEFAULT '',
		end_job_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_elections_start (start_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS election_candidates (
		election_id VARCHAR(36) NOT NULL,
		candidate_id VARCHAR(36) NOT NULL,
		position_idx INT NOT NULL AUTO_INCREMENT,
		PRIMARY KEY (election_id, candidate_id),
		KEY idx_ec_order (position_idx)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS election_voters (
		election_id VARCHAR(36) NOT NULL,
		voter_id VARCHAR(36) NOT NULL,
		position_idx INT NOT NULL AUTO_INCREMENT,
		PRIMARY KEY (election_id, voter_id),
		KEY idx_ev_order (position_idx)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS votes (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		election_id VARCHAR(36) NOT NULL,
		voter_id VARCHAR(36) NOT NULL,
		candidate_id VARCHAR(36) NOT NULL,
		position VARCHAR(255) NOT NULL,
		cast_at DATETIME(3) NOT NULL,
		seq BIGINT NOT NULL AUTO_INCREMENT,
		UNIQUE KEY uk_votes_voter_position (election_id, voter_id, position),
		KEY idx_votes_seq (seq)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// CreateSchema 创建表结构，可重复执行
func (r *MySQLRepository) CreateSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行第%d条建表语句失败: %w", i+1, err)
		}
	}
	return nil
}
