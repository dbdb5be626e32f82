package sqlinline

const jobColumns = `id::text, user_id, tool, family, status, input_refs, params, outputs, error_raw, error_text, external_task_id, cost, created_at, updated_at`

const QInsertJob = `--sql ea512fb6-075c-4f43-b236-576e6fa66d17
insert into jobs (id, user_id, tool, family, status, input_refs, params, outputs, cost, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, coalesce($6::jsonb, '{}'::jsonb), coalesce($7::jsonb, '{}'::jsonb), '[]'::jsonb, $8::int, now(), now())
returning created_at, updated_at;
`

const QSelectJobByID = `--sql fc0acf8c-fb95-4eb1-a2a0-7e49de2ee570
select ` + jobColumns + `
from jobs
where id = $1::uuid
limit 1;
`

const QSelectJobForUser = `--sql 2a18a809-98bc-4068-9f5b-3655cccca51d
select ` + jobColumns + `
from jobs
where id = $1::uuid
  and user_id = $2::text
limit 1;
`

const QSelectJobByExternalTask = `--sql f0d8bf7b-0724-41da-8bbf-ed01f4f39539
select ` + jobColumns + `
from jobs
where external_task_id = $1::text
limit 1;
`

const QSelectActiveJob = `--sql 02b06495-4599-498f-ae58-88f755bd61e1
select ` + jobColumns + `
from jobs
where user_id = $1::text
  and family = $2::text
  and status in ('pending', 'queued', 'running')
order by created_at desc
limit 1;
`

const QListJobsByUser = `--sql 1140f9f3-f50b-4d36-ae0c-f87f4bdab187
select ` + jobColumns + `
from jobs
where user_id = $1::text
order by created_at desc
limit $2::int offset $3::int;
`

const QAttachExternalTask = `--sql 1ca5c018-0ab0-4dc0-bdb7-c0f2142d4235
update jobs
set external_task_id = $2::text,
    status = case when status = 'pending' then 'queued' else status end,
    updated_at = now()
where id = $1::uuid
  and status in ('pending', 'queued', 'running')
returning ` + jobColumns + `;
`

// QTransitionJob only matches rows whose current status is one of $6, so a
// transition that lost a race returns no row.
const QTransitionJob = `--sql 67b6cf63-fb19-4d58-9518-37aece67001b
update jobs
set status = $2::text,
    outputs = case when $3::jsonb is null then outputs else outputs || $3::jsonb end,
    error_raw = coalesce($4::text, error_raw),
    error_text = coalesce($5::text, error_text),
    updated_at = now()
where id = $1::uuid
  and status = any($6::text[])
returning ` + jobColumns + `;
`

const QListReconcilableJobs = `--sql f6b86663-fc72-4b90-9d5e-e934989a5f43
select ` + jobColumns + `
from jobs
where status in ('pending', 'queued', 'running')
  and updated_at < $1::timestamptz
order by updated_at asc
limit $2::int;
`
