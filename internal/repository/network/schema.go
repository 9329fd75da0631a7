package network

// The schema is created once; the foreign-key cascade policy is part of the
// persistence contract, not a migration detail.
//
//   pole -> connectivity_node          CASCADE
//   pole -> pole (shared_pole_id)      CASCADE (mirror presences)
//   acline_segment -> line_section -> span  CASCADE
//   line -> acline_segment / connectivity_node / pole  CASCADE
//   substation -> connectivity_node    SET NULL
//   connectivity_node -> span          RESTRICT; span cleanup on pole
//                                      deletion is done by the engine
const schemaSQL = `
CREATE TABLE IF NOT EXISTS substation (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  dispatcher_name TEXT NOT NULL DEFAULT '',
  x_position DOUBLE PRECISION NOT NULL DEFAULT 0,
  y_position DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS line (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  name TEXT NOT NULL,
  voltage_kv DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pole (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  line_id BIGINT NOT NULL REFERENCES line(id) ON DELETE CASCADE,
  pole_number TEXT NOT NULL,
  sequence_number INTEGER NOT NULL,
  pole_type TEXT NOT NULL DEFAULT 'intermediate',
  x_position DOUBLE PRECISION NOT NULL,
  y_position DOUBLE PRECISION NOT NULL,
  is_tap_pole BOOLEAN NOT NULL DEFAULT FALSE,
  conductor_type TEXT NOT NULL DEFAULT '',
  conductor_material TEXT NOT NULL DEFAULT '',
  conductor_section INTEGER NOT NULL DEFAULT 0,
  shared_pole_id BIGINT REFERENCES pole(id) ON DELETE CASCADE,
  UNIQUE (line_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS idx_pole_line_id ON pole (line_id);

CREATE TABLE IF NOT EXISTS connectivity_node (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  line_id BIGINT REFERENCES line(id) ON DELETE CASCADE,
  pole_id BIGINT REFERENCES pole(id) ON DELETE CASCADE,
  substation_id BIGINT REFERENCES substation(id) ON DELETE SET NULL,
  x_position DOUBLE PRECISION NOT NULL DEFAULT 0,
  y_position DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cn_line_id ON connectivity_node (line_id);
CREATE INDEX IF NOT EXISTS idx_cn_pole_id ON connectivity_node (pole_id);

CREATE TABLE IF NOT EXISTS acline_segment (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  line_id BIGINT NOT NULL REFERENCES line(id) ON DELETE CASCADE,
  sequence_number INTEGER NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  from_node_id BIGINT NOT NULL REFERENCES connectivity_node(id),
  to_node_id BIGINT REFERENCES connectivity_node(id),
  length_km DOUBLE PRECISION NOT NULL DEFAULT 0,
  is_tap BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_segment_line_id ON acline_segment (line_id);

CREATE TABLE IF NOT EXISTS line_section (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  segment_id BIGINT NOT NULL REFERENCES acline_segment(id) ON DELETE CASCADE,
  sequence_number INTEGER NOT NULL,
  conductor_type TEXT NOT NULL DEFAULT '',
  conductor_material TEXT NOT NULL DEFAULT '',
  conductor_section INTEGER NOT NULL DEFAULT 0,
  total_length_km DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_section_segment_id ON line_section (segment_id);

CREATE TABLE IF NOT EXISTS span (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  line_id BIGINT NOT NULL REFERENCES line(id) ON DELETE CASCADE,
  section_id BIGINT NOT NULL REFERENCES line_section(id) ON DELETE CASCADE,
  from_node_id BIGINT NOT NULL REFERENCES connectivity_node(id) ON UPDATE RESTRICT,
  to_node_id BIGINT NOT NULL REFERENCES connectivity_node(id) ON UPDATE RESTRICT,
  sequence_number INTEGER NOT NULL,
  length_m DOUBLE PRECISION NOT NULL DEFAULT 0,
  conductor_type TEXT NOT NULL DEFAULT '',
  conductor_material TEXT NOT NULL DEFAULT '',
  conductor_section INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_span_line_id ON span (line_id);
CREATE INDEX IF NOT EXISTS idx_span_section_id ON span (section_id);

CREATE TABLE IF NOT EXISTS terminal (
  id BIGSERIAL PRIMARY KEY,
  mrid CHAR(36) NOT NULL UNIQUE,
  segment_id BIGINT NOT NULL REFERENCES acline_segment(id) ON DELETE CASCADE,
  node_id BIGINT NOT NULL REFERENCES connectivity_node(id) ON DELETE CASCADE,
  sequence_number INTEGER NOT NULL,
  UNIQUE (segment_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS change_log (
  id BIGSERIAL PRIMARY KEY,
  line_id BIGINT NOT NULL DEFAULT 0,
  line_mrid CHAR(36) NOT NULL DEFAULT '',
  entity TEXT NOT NULL,
  mrid CHAR(36) NOT NULL,
  op TEXT NOT NULL,
  recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_change_log_line_id ON change_log (line_id);
`
