package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255),
				user_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				record JSONB NOT NULL
			);

			CREATE INDEX idx_runs_started_at ON runs(started_at);
			CREATE INDEX idx_runs_user_id ON runs(user_id);
			CREATE INDEX idx_runs_finished_at ON runs(finished_at);
		`,
	}
}
