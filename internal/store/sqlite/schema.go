package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	customer_unique_id       TEXT PRIMARY KEY,
	total_orders             INTEGER NOT NULL,
	first_order_date         TEXT NOT NULL,
	last_order_date          TEXT NOT NULL,
	total_price              REAL NOT NULL,
	avg_price                REAL NOT NULL,
	std_price                REAL NOT NULL,
	total_freight            REAL NOT NULL,
	avg_freight              REAL NOT NULL,
	total_payment            REAL NOT NULL,
	avg_payment              REAL NOT NULL,
	std_payment              REAL NOT NULL,
	unique_products          INTEGER NOT NULL,
	unique_categories        INTEGER NOT NULL,
	avg_review_score         REAL NOT NULL,
	total_review_comments    INTEGER NOT NULL,
	avg_payment_methods      REAL NOT NULL,
	max_installments         INTEGER NOT NULL,
	customer_city            TEXT NOT NULL DEFAULT '',
	customer_state           TEXT NOT NULL DEFAULT '',
	customer_zip_code_prefix TEXT NOT NULL DEFAULT '',
	recency_days             INTEGER NOT NULL,
	frequency                INTEGER NOT NULL,
	monetary                 REAL NOT NULL,
	customer_lifetime_days   INTEGER NOT NULL,
	avg_days_between_orders  REAL NOT NULL,
	avg_order_value          REAL NOT NULL,
	product_diversity_ratio  REAL NOT NULL,
	category_diversity_ratio REAL NOT NULL,
	churn_risk               TEXT NOT NULL,
	cluster                  INTEGER,
	run_id                   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_churn_risk ON customers(churn_risk);
CREATE INDEX IF NOT EXISTS idx_customers_state ON customers(customer_state);

CREATE TABLE IF NOT EXISTS feature_runs (
	run_id        TEXT PRIMARY KEY,
	source        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	started_ts    TEXT NOT NULL,
	finished_ts   TEXT,
	customers     INTEGER,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS campaigns (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT NOT NULL,
	target_risk_level   TEXT NOT NULL,
	campaign_type       TEXT NOT NULL,
	discount_percentage REAL NOT NULL DEFAULT 0,
	message             TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'Active',
	created_ts          TEXT NOT NULL,
	target_customers    INTEGER NOT NULL DEFAULT 0,
	engaged_customers   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
`
