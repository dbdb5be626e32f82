package sqlinline

const QSelectCreditBalance = `--sql c714e36e-4f5c-40b8-b6cb-d85dac510bb6
select balance
from user_credits
where user_id = $1::text
limit 1;
`

// QConsumeCredits is a compare-and-decrement: the update matches nothing
// when the balance cannot cover the amount, so no ledger row is written.
const QConsumeCredits = `--sql 78a3fab8-2fd8-4a68-81a4-39c2767e222d
with debited as (
    update user_credits
    set balance = balance - $3::int,
        updated_at = now()
    where user_id = $1::text
      and balance >= $3::int
    returning user_id, balance
),
logged as (
    insert into credit_transactions (id, user_id, job_id, kind, delta, balance_after, description, created_at)
    select gen_random_uuid(), d.user_id, $2::uuid, 'consume', -$3::int, d.balance, $4::text, now()
    from debited d
    returning balance_after
)
select balance_after from logged;
`

// QRefundCredits relies on the unique (job_id, kind) index: a second refund
// for the same job inserts nothing and therefore credits nothing.
const QRefundCredits = `--sql 2ead0e73-97c5-4a12-bb3f-a56555048127
with logged as (
    insert into credit_transactions (id, user_id, job_id, kind, delta, balance_after, description, created_at)
    select gen_random_uuid(), $1::text, $2::uuid, 'refund', $3::int, c.balance + $3::int, $4::text, now()
    from user_credits c
    where c.user_id = $1::text
    on conflict (job_id, kind) do nothing
    returning id
),
credited as (
    update user_credits
    set balance = balance + $3::int,
        updated_at = now()
    where user_id = $1::text
      and exists (select 1 from logged)
    returning balance
)
select balance from credited;
`

const QListCreditTransactions = `--sql 864c72b5-2fd9-4355-8723-d8a3dc1cd815
select id::text, user_id, job_id::text, kind, delta, balance_after, description, created_at
from credit_transactions
where user_id = $1::text
order by created_at desc
limit $2::int;
`

const QResetMonthlyCredits = `--sql 9b3be041-8b5a-4009-8627-3cfe94591e8a
with previous as (
    select user_id, balance
    from user_credits
    where monthly_allowance > 0
    for update
),
reset as (
    update user_credits c
    set balance = c.monthly_allowance,
        reset_at = now(),
        updated_at = now()
    from previous p
    where c.user_id = p.user_id
    returning c.user_id, c.balance, c.balance - p.balance as delta
),
logged as (
    insert into credit_transactions (id, user_id, job_id, kind, delta, balance_after, description, created_at)
    select gen_random_uuid(), r.user_id, null, 'reset', r.delta, r.balance, 'monthly credit reset', now()
    from reset r
    returning 1
)
select count(*)::int from reset;
`

const QEnsureCreditAccount = `--sql 03c26357-0590-46fb-9e5d-d6f9a4815770
insert into user_credits (user_id, balance, monthly_allowance, reset_at, updated_at)
values ($1::text, $2::int, $2::int, now(), now())
on conflict (user_id) do nothing;
`
