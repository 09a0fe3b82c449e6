package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_instances (
				id VARCHAR(64) PRIMARY KEY,
				type VARCHAR(100) NOT NULL,
				reference_id VARCHAR(255) NOT NULL,
				reference_type VARCHAR(100) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('IN_PROGRESS', 'APPROVED', 'REJECTED')),
				current_step INT NOT NULL,
				total_steps INT NOT NULL,
				initiated_by VARCHAR(255) NOT NULL,
				sla_deadline TIMESTAMP WITH TIME ZONE,
				sla_breached BOOLEAN NOT NULL DEFAULT FALSE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_reference ON workflow_instances(reference_type, reference_id);
			CREATE INDEX idx_workflow_instances_sla ON workflow_instances(status, sla_breached, sla_deadline);

			CREATE TABLE workflow_steps (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				step_number INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'IN_PROGRESS', 'APPROVED', 'REJECTED', 'SKIPPED')),
				required_role VARCHAR(100),
				assigned_user_id VARCHAR(255),
				sla_hours INT,
				skippable BOOLEAN NOT NULL DEFAULT FALSE,
				due_at TIMESTAMP WITH TIME ZONE,
				action_by VARCHAR(255),
				action_at TIMESTAMP WITH TIME ZONE,
				action_comment TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (workflow_id, step_number)
			);

			CREATE INDEX idx_workflow_steps_active ON workflow_steps(status, due_at);
			CREATE INDEX idx_workflow_steps_role ON workflow_steps(required_role) WHERE status = 'IN_PROGRESS';
			CREATE INDEX idx_workflow_steps_assignee ON workflow_steps(assigned_user_id) WHERE status = 'IN_PROGRESS';
		`,
	}
}
